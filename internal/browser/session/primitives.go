// internal/browser/session/primitives.go
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ dom.Primitives = (*Tab)(nil)

// ignoredAXRoles are text leaves that share the accessible name of their
// parent and would otherwise shadow the element we actually want.
var ignoredAXRoles = map[string]bool{"StaticText": true, "InlineTextBox": true}

// call invokes fn on the remote object behind h with JSON encoded args. When
// byValue is set the result is returned as JSON; otherwise the remote object
// is returned so its id can become a new handle.
func (t *Tab) call(ctx context.Context, h dom.Handle, fn string, byValue bool, args ...interface{}) (*runtime.RemoteObject, error) {
	decl, err := applyWith(fn, args)
	if err != nil {
		return nil, err
	}

	var res *runtime.RemoteObject
	err = t.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		objectID, release, err := t.objectID(ctx, h)
		if err != nil {
			return err
		}
		defer release()

		p := runtime.CallFunctionOn(decl).
			WithObjectID(objectID).
			WithReturnByValue(byValue).
			WithAwaitPromise(true).
			WithSilent(true)
		var exc *runtime.ExceptionDetails
		res, exc, err = p.Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception on %s: %s", h, exceptionText(exc))
		}
		return nil
	}))
	return res, err
}

// objectID resolves h to a remote object id, materializing the document for the zero handle.
func (t *Tab) objectID(ctx context.Context, h dom.Handle) (runtime.RemoteObjectID, func(), error) {
	if !h.IsDocument() {
		return runtime.RemoteObjectID(h.ObjectID), func() {}, nil
	}
	obj, exc, err := runtime.Evaluate("document").Do(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("resolving document: %w", err)
	}
	if exc != nil || obj == nil || obj.ObjectID == "" {
		return "", nil, fmt.Errorf("resolving document: no object id")
	}
	return obj.ObjectID, func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }, nil
}

// applyWith wraps fn so the arguments are embedded as JSON literals.
func applyWith(fn string, args []interface{}) (string, error) {
	if len(args) == 0 {
		return fn, nil
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding script arguments: %w", err)
	}
	return fmt.Sprintf("function() { return (%s).apply(this, %s); }", fn, encoded), nil
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

func (t *Tab) callValue(ctx context.Context, h dom.Handle, fn string, out interface{}, args ...interface{}) error {
	res, err := t.call(ctx, h, fn, true, args...)
	if err != nil {
		return err
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}

func (t *Tab) callBool(ctx context.Context, h dom.Handle, fn string, args ...interface{}) (bool, error) {
	var ok bool
	err := t.callValue(ctx, h, fn, &ok, args...)
	return ok, err
}

func handleFor(obj *runtime.RemoteObject, desc string) (dom.Handle, bool) {
	if obj == nil || obj.ObjectID == "" || obj.Subtype == runtime.SubtypeNull {
		return dom.Handle{}, false
	}
	return dom.Handle{ObjectID: string(obj.ObjectID), Desc: desc}, true
}

// QueryCSS runs querySelector inside scope.
func (t *Tab) QueryCSS(ctx context.Context, scope dom.Handle, css string) (dom.Handle, bool, error) {
	res, err := t.call(ctx, scope, jsQuerySelector, false, css)
	if err != nil {
		return dom.Handle{}, false, err
	}
	h, ok := handleFor(res, css)
	return h, ok, nil
}

// QueryARIA searches the accessibility tree below scope for a node with the
// given accessible name and role. Empty name or role act as wildcards.
func (t *Tab) QueryARIA(ctx context.Context, scope dom.Handle, name, role string) (dom.Handle, bool, error) {
	desc := fmt.Sprintf("aria/%s[role=%q]", name, role)
	var found dom.Handle
	var ok bool
	err := t.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		objectID, release, err := t.objectID(ctx, scope)
		if err != nil {
			return err
		}
		defer release()

		q := accessibility.QueryAXTree().WithObjectID(objectID)
		if name != "" {
			q = q.WithAccessibleName(name)
		}
		if role != "" {
			q = q.WithRole(role)
		}
		nodes, err := q.Do(ctx)
		if err != nil {
			return fmt.Errorf("querying accessibility tree: %w", err)
		}
		for _, n := range nodes {
			if n.Ignored || n.BackendDOMNodeID == 0 || ignoredAXRoles[axString(n.Role)] {
				continue
			}
			obj, err := cdpdom.ResolveNode().WithBackendNodeID(n.BackendDOMNodeID).Do(ctx)
			if err != nil {
				t.logger.Debug("Failed to resolve accessibility node.", zap.String("query", desc), zap.Error(err))
				continue
			}
			found, ok = handleFor(obj, desc)
			if ok {
				return nil
			}
		}
		return nil
	}))
	return found, ok, err
}

func axString(v *accessibility.Value) string {
	if v == nil {
		return ""
	}
	return strings.Trim(string(v.Value), `"`)
}

func (t *Tab) ShadowRootOrSelf(ctx context.Context, h dom.Handle) (dom.Handle, error) {
	res, err := t.call(ctx, h, jsShadowRootOrSelf, false)
	if err != nil {
		return dom.Handle{}, err
	}
	if res != nil && string(res.ObjectID) == h.ObjectID {
		return h, nil
	}
	root, ok := handleFor(res, h.Desc+" (shadow root)")
	if !ok {
		return h, nil
	}
	return root, nil
}

func (t *Tab) IsVisible(ctx context.Context, h dom.Handle) (bool, error) {
	return t.callBool(ctx, h, jsIsVisible)
}

func (t *Tab) IsConnected(ctx context.Context, h dom.Handle) (bool, error) {
	return t.callBool(ctx, h, jsIsConnected)
}

func (t *Tab) IntersectsViewport(ctx context.Context, h dom.Handle) (bool, error) {
	return t.callBool(ctx, h, jsIntersectsViewport)
}

func (t *Tab) ScrollIntoViewCenter(ctx context.Context, h dom.Handle) error {
	return t.callValue(ctx, h, jsScrollIntoViewCenter, nil)
}

type clickPoint struct {
	X, Y float64
	W, H float64
}

// Click presses and releases the left mouse button at the element's center.
func (t *Tab) Click(ctx context.Context, h dom.Handle) error {
	var pt clickPoint
	if err := t.callValue(ctx, h, jsClickPoint, &pt); err != nil {
		return fmt.Errorf("locating %s: %w", h, err)
	}
	if pt.W == 0 && pt.H == 0 {
		return fmt.Errorf("clicking %s: element has an empty box", h)
	}
	press := input.DispatchMouseEvent(input.MousePressed, pt.X, pt.Y).WithButton(input.Left).WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, pt.X, pt.Y).WithButton(input.Left).WithClickCount(1)
	if err := t.RunActions(ctx, press, release); err != nil {
		return fmt.Errorf("clicking %s: %w", h, err)
	}
	return nil
}

func (t *Tab) Focus(ctx context.Context, h dom.Handle) error {
	return t.callValue(ctx, h, jsFocus, nil)
}

// TypeText focuses h and sends one key event per rune.
func (t *Tab) TypeText(ctx context.Context, h dom.Handle, text string) error {
	if err := t.Focus(ctx, h); err != nil {
		return err
	}
	return t.RunActions(ctx, chromedp.KeyEvent(text))
}

func (t *Tab) Property(ctx context.Context, h dom.Handle, name string) (string, error) {
	var v string
	err := t.callValue(ctx, h, jsProperty, &v, name)
	return v, err
}

func (t *Tab) SetValueWithEvents(ctx context.Context, h dom.Handle, value string) error {
	return t.callValue(ctx, h, jsSetValueWithEvents, nil, value)
}

func (t *Tab) SelectOption(ctx context.Context, h dom.Handle, value string) error {
	ok, err := t.callBool(ctx, h, jsSelectOption, value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s has no option with value %q", h, value)
	}
	return nil
}

func (t *Tab) SelectOptionAt(ctx context.Context, h dom.Handle, index int) error {
	ok, err := t.callBool(ctx, h, jsSelectOptionAt, index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s has no option at index %d", h, index)
	}
	return nil
}

func (t *Tab) TextContent(ctx context.Context, h dom.Handle) (string, error) {
	var s string
	err := t.callValue(ctx, h, jsTextContent, &s)
	return s, err
}

// Release frees the remote object. Errors are logged; a failed release only
// leaks memory inside a tab that is about to close anyway.
func (t *Tab) Release(ctx context.Context, h dom.Handle) {
	if h.IsDocument() {
		return
	}
	rctx, cancel := context.WithTimeout(Detach(ctx), releaseTimeout)
	defer cancel()
	if err := t.RunActions(rctx, runtime.ReleaseObject(runtime.RemoteObjectID(h.ObjectID))); err != nil {
		t.logger.Debug("Failed to release remote object.", zap.Stringer("element", h), zap.Error(err))
	}
}
