// internal/browser/session/tab.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	releaseTimeout           = 2 * time.Second
	closeTimeout             = 10 * time.Second
)

// ErrTabClosed is returned for operations on a tab that has been closed.
var ErrTabClosed = errors.New("tab is closed")

// Tab owns a single browser target for the duration of a run. It implements
// dom.Primitives plus the page level operations the workflow needs.
type Tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	navigationTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// TabOptions configures a new tab.
type TabOptions struct {
	NavigationTimeout time.Duration
}

// NewTab opens a new target in the browser behind browserCtx and enables the
// network domain so responses can be observed.
func NewTab(ctx context.Context, browserCtx context.Context, opts TabOptions, logger *zap.Logger) (*Tab, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	t := &Tab{
		id:                uuid.NewString(),
		ctx:               tabCtx,
		cancel:            cancel,
		navigationTimeout: opts.NavigationTimeout,
		closed:            make(chan struct{}),
	}
	t.logger = logger.Named("tab").With(zap.String("tab_id", t.id))

	if err := StartTarget(ctx, tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	t.logger.Debug("Tab opened.")
	return t, nil
}

// ID returns the tab's identifier.
func (t *Tab) ID() string { return t.id }

// Done is closed once Close has been called.
func (t *Tab) Done() <-chan struct{} { return t.closed }

// RunActions runs chromedp actions on the tab, bounded by ctx.
func (t *Tab) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-t.closed:
		return ErrTabClosed
	default:
	}
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close closes the target. It is idempotent and safe to call after ctx-driven failures.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(t.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.closeErr = fmt.Errorf("closing tab: %w", err)
			}
		case <-time.After(closeTimeout):
			t.closeErr = fmt.Errorf("closing tab: timed out after %v", closeTimeout)
		}
		t.cancel()
		t.logger.Debug("Tab closed.", zap.Error(t.closeErr))
	})
	return t.closeErr
}

// SetViewport pins the page dimensions so the layout does not shift between runs.
func (t *Tab) SetViewport(ctx context.Context, width, height int) error {
	return t.RunActions(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

// Navigate loads url and waits for DOMContentLoaded, within the navigation timeout.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.navigationTimeout)
	defer cancel()

	ready := t.awaitEvent(navCtx, func(ev interface{}) bool {
		_, ok := ev.(*page.EventDomContentEventFired)
		return ok
	})
	err := t.RunActions(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	select {
	case <-ready:
		return nil
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigating to %s: DOMContentLoaded not fired within %v", url, t.navigationTimeout)
	}
}

// ClickAndWaitNavigation clicks h and waits for the navigation the click triggers.
func (t *Tab) ClickAndWaitNavigation(ctx context.Context, h dom.Handle) error {
	navCtx, cancel := context.WithTimeout(ctx, t.navigationTimeout)
	defer cancel()

	loaded := t.awaitEvent(navCtx, func(ev interface{}) bool {
		_, ok := ev.(*page.EventLoadEventFired)
		return ok
	})
	if err := t.Click(navCtx, h); err != nil {
		return err
	}
	select {
	case <-loaded:
		return nil
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("waiting for navigation after clicking %s: timed out after %v", h, t.navigationTimeout)
	}
}

// awaitEvent returns a channel closed on the first target event matching fn.
// The listener is dropped when ctx ends.
func (t *Tab) awaitEvent(ctx context.Context, fn func(ev interface{}) bool) <-chan struct{} {
	fired := make(chan struct{})
	var once sync.Once
	lctx, cancel := CombineContext(t.ctx, ctx)
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		if fn(ev) {
			once.Do(func() {
				close(fired)
				cancel()
			})
		}
	})
	return fired
}

type keyDef struct {
	code string
	vk   int64
	text string
}

var keys = map[string]keyDef{
	"Tab":   {code: "Tab", vk: 9},
	"Enter": {code: "Enter", vk: 13, text: "\r"},
}

// PressKey sends a key down followed by a key up for a named key.
func (t *Tab) PressKey(ctx context.Context, key string) error {
	def, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	downType := input.KeyRawDown
	if def.text != "" {
		downType = input.KeyDown
	}
	down := input.DispatchKeyEvent(downType).
		WithKey(key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk)
	if def.text != "" {
		down = down.WithText(def.text)
	}
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey(key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk)
	return t.RunActions(ctx, down, up)
}

// Screenshot captures the current viewport as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Listen registers fn for every event of the tab's target until the tab closes.
func (t *Tab) Listen(fn func(ev interface{})) {
	chromedp.ListenTarget(t.ctx, fn)
}

// ResponseBody fetches the body of a finished response. It must not be called
// from inside a Listen callback.
func (t *Tab) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := t.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("fetching body for request %s: %w", id, err)
	}
	return body, nil
}
