// File: internal/mocks/fakepage.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
)

// ErrUnknownHandle is returned when a fake primitive is called with a handle
// that was never registered.
var ErrUnknownHandle = errors.New("fake page: unknown handle")

// FakeElement is the scripted state of one node on a FakePage.
type FakeElement struct {
	ID         string
	Visible    bool
	Connected  bool
	InViewport bool
	// ScrollFixes makes the element intersect the viewport after a scroll request.
	ScrollFixes bool
	// ShadowRoot is the id of the element's shadow root, if any.
	ShadowRoot string
	Text       string
	Type       string
	Value      string
	Options    []string
}

// FakePage is an in-memory page implementing dom.Primitives plus the page level
// operations used by the workflow. Every call is appended to an ordered log so
// tests can assert on interaction order.
type FakePage struct {
	mu       sync.Mutex
	elements map[string]*FakeElement
	// queries maps "<scope id>|<query key>" to an element id.
	queries  map[string]string
	onClick  map[string]func()
	onSelect map[string]func(value string)
	bodies   map[network.RequestID][]byte
	listener func(ev interface{})
	calls    []string

	Released  []string
	Closed    bool
	CloseErr  error
	Viewport  [2]int
	Navigated []string
	Keys      []string
}

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		elements: make(map[string]*FakeElement),
		queries:  make(map[string]string),
		onClick:  make(map[string]func()),
		onSelect: make(map[string]func(string)),
		bodies:   make(map[network.RequestID][]byte),
	}
}

// CSSKey and ARIAKey build the query keys used by Register.
func CSSKey(css string) string { return "css:" + css }

func ARIAKey(name, role string) string { return fmt.Sprintf("aria:%s[%s]", name, role) }

// Add registers el so that query (a CSSKey/ARIAKey) in scope resolves to it.
// An empty scope means the document.
func (p *FakePage) Add(scope, query string, el *FakeElement) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[el.ID] = el
	p.queries[scope+"|"+query] = el.ID
	return el
}

// Put registers el without making it reachable by any query (e.g. a shadow root).
func (p *FakePage) Put(el *FakeElement) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[el.ID] = el
	return el
}

// Element returns the registered element with id.
func (p *FakePage) Element(id string) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[id]
}

// OnClick installs a hook run after the element with id is clicked.
func (p *FakePage) OnClick(id string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[id] = fn
}

// OnSelect installs a hook run after an option of the element with id is selected.
func (p *FakePage) OnSelect(id string, fn func(value string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSelect[id] = fn
}

// SetBody stores the response body returned for request id.
func (p *FakePage) SetBody(id network.RequestID, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[id] = body
}

// Emit delivers ev to the registered network listener, if any.
func (p *FakePage) Emit(ev interface{}) {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Calls returns a copy of the ordered call log.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallsWithPrefix returns the logged calls starting with prefix.
func (p *FakePage) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (p *FakePage) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *FakePage) lookup(h dom.Handle) (*FakeElement, error) {
	el, ok := p.elements[h.ObjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, h.ObjectID)
	}
	return el, nil
}

func (p *FakePage) query(ctx context.Context, scope dom.Handle, key string) (dom.Handle, bool, error) {
	if err := ctx.Err(); err != nil {
		return dom.Handle{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("query %s %s", scope, key)
	id, ok := p.queries[scope.ObjectID+"|"+key]
	if !ok {
		return dom.Handle{}, false, nil
	}
	return dom.Handle{ObjectID: id, Desc: id}, true, nil
}

// -- dom.Primitives --

func (p *FakePage) QueryCSS(ctx context.Context, scope dom.Handle, css string) (dom.Handle, bool, error) {
	return p.query(ctx, scope, CSSKey(css))
}

func (p *FakePage) QueryARIA(ctx context.Context, scope dom.Handle, name, role string) (dom.Handle, bool, error) {
	return p.query(ctx, scope, ARIAKey(name, role))
}

func (p *FakePage) ShadowRootOrSelf(ctx context.Context, h dom.Handle) (dom.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(h)
	if err != nil {
		return dom.Handle{}, err
	}
	if el.ShadowRoot != "" {
		return dom.Handle{ObjectID: el.ShadowRoot, Desc: el.ShadowRoot}, nil
	}
	return h, nil
}

func (p *FakePage) IsVisible(ctx context.Context, h dom.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(h)
	if err != nil {
		return false, err
	}
	return el.Visible, nil
}

func (p *FakePage) IsConnected(ctx context.Context, h dom.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("connected %s", h)
	el, err := p.lookup(h)
	if err != nil {
		return false, err
	}
	return el.Connected, nil
}

func (p *FakePage) IntersectsViewport(ctx context.Context, h dom.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("intersects %s", h)
	el, err := p.lookup(h)
	if err != nil {
		return false, err
	}
	return el.InViewport, nil
}

func (p *FakePage) ScrollIntoViewCenter(ctx context.Context, h dom.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll %s", h)
	el, err := p.lookup(h)
	if err != nil {
		return err
	}
	if el.ScrollFixes {
		el.InViewport = true
	}
	return nil
}

func (p *FakePage) Click(ctx context.Context, h dom.Handle) error {
	p.mu.Lock()
	p.record("click %s", h)
	if _, err := p.lookup(h); err != nil {
		p.mu.Unlock()
		return err
	}
	hook := p.onClick[h.ObjectID]
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *FakePage) Focus(ctx context.Context, h dom.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("focus %s", h)
	_, err := p.lookup(h)
	return err
}

func (p *FakePage) TypeText(ctx context.Context, h dom.Handle, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("type %s", h)
	el, err := p.lookup(h)
	if err != nil {
		return err
	}
	el.Value += text
	return nil
}

func (p *FakePage) Property(ctx context.Context, h dom.Handle, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(h)
	if err != nil {
		return "", err
	}
	switch name {
	case "type":
		return el.Type, nil
	case "value":
		return el.Value, nil
	}
	return "", nil
}

func (p *FakePage) SetValueWithEvents(ctx context.Context, h dom.Handle, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setvalue %s", h)
	el, err := p.lookup(h)
	if err != nil {
		return err
	}
	el.Value = value
	return nil
}

func (p *FakePage) SelectOption(ctx context.Context, h dom.Handle, value string) error {
	p.mu.Lock()
	p.record("select %s %s", h, value)
	el, err := p.lookup(h)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	el.Value = value
	hook := p.onSelect[h.ObjectID]
	p.mu.Unlock()
	if hook != nil {
		hook(value)
	}
	return nil
}

func (p *FakePage) SelectOptionAt(ctx context.Context, h dom.Handle, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("selectat %s %d", h, index)
	el, err := p.lookup(h)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(el.Options) {
		return fmt.Errorf("fake page: option %d out of range", index)
	}
	el.Value = el.Options[index]
	return nil
}

func (p *FakePage) TextContent(ctx context.Context, h dom.Handle) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(h)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (p *FakePage) Release(ctx context.Context, h dom.Handle) {
	if h.IsDocument() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Released = append(p.Released, h.ObjectID)
}

// -- page level operations --

func (p *FakePage) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("viewport %dx%d", width, height)
	p.Viewport = [2]int{width, height}
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	p.Navigated = append(p.Navigated, url)
	return nil
}

func (p *FakePage) ClickAndWaitNavigation(ctx context.Context, h dom.Handle) error {
	if err := p.Click(ctx, h); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigation")
	return nil
}

func (p *FakePage) PressKey(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("key %s", key)
	p.Keys = append(p.Keys, key)
	return nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (p *FakePage) Listen(fn func(ev interface{})) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

func (p *FakePage) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, ok := p.bodies[id]
	if !ok {
		return nil, fmt.Errorf("fake page: no body for request %s", id)
	}
	return body, nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.Closed = true
	return p.CloseErr
}

// IsClosed reports whether Close has been called.
func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

var _ dom.Primitives = (*FakePage)(nil)
