// internal/browser/dom/primitives.go
package dom

import "context"

// Handle is an opaque reference to a live node inside the page. The zero Handle
// stands for the document itself and is used as the default query scope.
type Handle struct {
	// ObjectID is the remote object id assigned by the browser.
	ObjectID string
	// Desc is a short human readable description used in logs and errors.
	Desc string
}

// IsDocument reports whether h refers to the document scope.
func (h Handle) IsDocument() bool { return h.ObjectID == "" }

func (h Handle) String() string {
	if h.IsDocument() {
		return "document"
	}
	if h.Desc != "" {
		return h.Desc
	}
	return h.ObjectID
}

// Primitives is the low level DOM capability consumed by the automation engine.
// Implementations talk to a real browser tab; tests provide scripted fakes.
//
// Query methods return found=false (and no error) when nothing matches. Errors
// are reserved for protocol failures and stale handles.
type Primitives interface {
	QueryCSS(ctx context.Context, scope Handle, css string) (h Handle, found bool, err error)
	QueryARIA(ctx context.Context, scope Handle, name, role string) (h Handle, found bool, err error)
	// ShadowRootOrSelf returns the element's open shadow root, or the element
	// itself when it has none.
	ShadowRootOrSelf(ctx context.Context, h Handle) (Handle, error)

	IsVisible(ctx context.Context, h Handle) (bool, error)
	IsConnected(ctx context.Context, h Handle) (bool, error)
	// IntersectsViewport reports intersection with the viewport at a zero threshold.
	IntersectsViewport(ctx context.Context, h Handle) (bool, error)
	ScrollIntoViewCenter(ctx context.Context, h Handle) error

	Click(ctx context.Context, h Handle) error
	Focus(ctx context.Context, h Handle) error
	TypeText(ctx context.Context, h Handle, text string) error
	Property(ctx context.Context, h Handle, name string) (string, error)
	// SetValueWithEvents assigns value and dispatches bubbling input and change events.
	SetValueWithEvents(ctx context.Context, h Handle, value string) error
	// SelectOption selects the option whose value matches and dispatches change.
	SelectOption(ctx context.Context, h Handle, value string) error
	// SelectOptionAt selects the option at index (zero based) and dispatches change.
	SelectOptionAt(ctx context.Context, h Handle, index int) error
	TextContent(ctx context.Context, h Handle) (string, error)

	// Release frees the remote reference. It is safe to call on the document handle.
	Release(ctx context.Context, h Handle)
}
