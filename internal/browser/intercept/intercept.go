// internal/browser/intercept/intercept.go
package intercept

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/browser/wait"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const bodyFetchTimeout = 15 * time.Second

// Source is the slice of a browser tab the interceptor needs.
type Source interface {
	// Listen registers fn for every event emitted by the tab's target.
	Listen(fn func(ev interface{}))
	ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error)
}

// Options bounds the wait for the snapshot.
type Options struct {
	Attempts int
	Interval time.Duration
}

// DefaultOptions polls ten times at one second spacing.
var DefaultOptions = Options{Attempts: 10, Interval: time.Second}

// Interceptor passively watches network responses and captures the body of
// the one whose URL exactly equals the target. A later match overwrites an
// earlier one.
type Interceptor struct {
	source    Source
	targetURL string
	opts      Options
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	pending  map[network.RequestID]struct{}
	snapshot appointment.Snapshot
	captured bool
	captures int
}

// New creates an interceptor for targetURL. Call Start before triggering the request.
func New(source Source, targetURL string, opts Options, logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultOptions.Attempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions.Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Interceptor{
		source:    source,
		targetURL: targetURL,
		opts:      opts,
		logger:    logger.Named("interceptor"),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[network.RequestID]struct{}),
	}
}

// Start registers the response observer.
func (i *Interceptor) Start() {
	i.source.Listen(i.handleEvent)
}

// Stop detaches the observer and waits for in-flight body fetches.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()
	i.cancel()
	i.wg.Wait()
}

func (i *Interceptor) handleEvent(ev interface{}) {
	// stopped and wg.Add share the lock so no fetch starts after Stop's Wait.
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}

	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Response == nil || ev.Response.URL != i.targetURL {
			return
		}
		i.pending[ev.RequestID] = struct{}{}
		i.logger.Debug("Availability response received.", zap.String("request_id", string(ev.RequestID)), zap.Int64("status", ev.Response.Status))
	case *network.EventLoadingFinished:
		if _, ok := i.pending[ev.RequestID]; ok {
			delete(i.pending, ev.RequestID)
			i.wg.Add(1)
			go i.fetchBody(ev.RequestID)
		}
	case *network.EventLoadingFailed:
		delete(i.pending, ev.RequestID)
	}
}

// fetchBody runs outside the event loop; CDP calls from inside a listener deadlock.
func (i *Interceptor) fetchBody(id network.RequestID) {
	defer i.wg.Done()
	ctx, cancel := context.WithTimeout(i.ctx, bodyFetchTimeout)
	defer cancel()

	body, err := i.source.ResponseBody(ctx, id)
	if err != nil {
		i.logger.Warn("Failed to fetch availability body.", zap.String("request_id", string(id)), zap.Error(err))
		return
	}
	if err := i.capture(body); err != nil {
		i.logger.Warn("Failed to decode availability body.", zap.String("request_id", string(id)), zap.Error(err))
	}
}

func (i *Interceptor) capture(body []byte) error {
	var snap appointment.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("decoding availability listing: %w", err)
	}
	if snap == nil {
		snap = appointment.Snapshot{}
	}
	i.mu.Lock()
	i.snapshot = snap
	i.captured = true
	i.captures++
	n := i.captures
	i.mu.Unlock()

	if n > 1 {
		i.logger.Debug("Availability snapshot overwritten by a later response.", zap.Int("captures", n))
	}
	return nil
}

// Snapshot returns the last captured listing, if any.
func (i *Interceptor) Snapshot() (appointment.Snapshot, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.captured {
		return nil, false
	}
	out := make(appointment.Snapshot, len(i.snapshot))
	copy(out, i.snapshot)
	return out, true
}

// Await polls for the snapshot Attempts times, Interval apart, and fails with
// a *wait.TimeoutError when it never shows up.
func (i *Interceptor) Await(ctx context.Context) (appointment.Snapshot, error) {
	for attempt := 1; ; attempt++ {
		if snap, ok := i.Snapshot(); ok {
			return snap, nil
		}
		if attempt >= i.opts.Attempts {
			break
		}
		if err := wait.Sleep(ctx, i.opts.Interval); err != nil {
			return nil, err
		}
	}
	return nil, &wait.TimeoutError{
		Op:      "waiting for available dates",
		Timeout: time.Duration(i.opts.Attempts) * i.opts.Interval,
	}
}
