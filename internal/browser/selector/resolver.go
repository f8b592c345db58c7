// internal/browser/selector/resolver.go
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
	"github.com/xkilldash9x/visa-resched/internal/browser/wait"
)

// Options governs a single resolution.
type Options struct {
	// Timeout is the budget for each fragment wait.
	Timeout time.Duration
	// MustBeVisible requires every matched fragment to be rendered and visible.
	MustBeVisible bool
}

// Outcome is the internal result of one strategy attempt. Only the Resolver
// boundary turns an exhausted set of outcomes into an error.
type Outcome struct {
	Handle dom.Handle
	Found  bool
	Reason string
}

func found(h dom.Handle) Outcome { return Outcome{Handle: h, Found: true} }

func notFound(format string, args ...interface{}) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Resolver turns a Spec into a live element handle.
type Resolver struct {
	prims  dom.Primitives
	logger *zap.Logger
}

// NewResolver creates a resolver over the given DOM primitives.
func NewResolver(prims dom.Primitives, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{prims: prims, logger: logger.Named("resolver")}
}

// Resolve resolves spec against the document.
func (r *Resolver) Resolve(ctx context.Context, spec Spec, opts Options) (dom.Handle, error) {
	return r.ResolveIn(ctx, dom.Handle{}, spec, opts)
}

// ResolveIn tries every strategy of spec in order, starting from scope. A
// strategy is only attempted after the previous one has definitively failed.
func (r *Resolver) ResolveIn(ctx context.Context, scope dom.Handle, spec Spec, opts Options) (dom.Handle, error) {
	if err := spec.Validate(); err != nil {
		return dom.Handle{}, err
	}
	if opts.Timeout <= 0 {
		return dom.Handle{}, fmt.Errorf("selector: timeout must be positive, got %v", opts.Timeout)
	}

	reasons := make([]string, 0, len(spec))
	for i, chain := range spec {
		out, err := r.resolveChain(ctx, scope, chain, opts)
		if err != nil {
			return dom.Handle{}, err
		}
		if out.Found {
			r.logger.Debug("Selector resolved.",
				zap.String("strategy", chain.String()),
				zap.Int("strategy_index", i),
				zap.Stringer("element", out.Handle))
			return out.Handle, nil
		}
		r.logger.Debug("Selector strategy failed, trying next.",
			zap.String("strategy", chain.String()),
			zap.String("reason", out.Reason))
		reasons = append(reasons, out.Reason)
	}

	return dom.Handle{}, &NotFoundError{Candidates: spec.Candidates(), Reasons: reasons}
}

// resolveChain walks the fragments of one strategy. The returned error is
// non-nil only when the caller's context ended.
func (r *Resolver) resolveChain(ctx context.Context, scope dom.Handle, chain Chain, opts Options) (Outcome, error) {
	current := scope
	// Intermediate handles are owned here and released on the way out.
	var owned []dom.Handle
	defer func() {
		for _, h := range owned {
			r.prims.Release(ctx, h)
		}
	}()

	for i, frag := range chain {
		h, err := r.waitForFragment(ctx, current, frag, opts)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return notFound("fragment %q: %v", frag.String(), err), nil
		}

		if i == len(chain)-1 {
			return found(h), nil
		}

		owned = append(owned, h)
		next, err := r.prims.ShadowRootOrSelf(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return notFound("shadow root of %q: %v", frag.String(), err), nil
		}
		if next != h {
			owned = append(owned, next)
		}
		current = next
	}
	return notFound("empty chain"), nil
}

// waitForFragment polls until frag matches inside scope (and is visible when required).
func (r *Resolver) waitForFragment(ctx context.Context, scope dom.Handle, frag Fragment, opts Options) (dom.Handle, error) {
	var match dom.Handle
	err := wait.Until(ctx, "wait for "+frag.String(), opts.Timeout, func(ctx context.Context) (bool, error) {
		h, ok, err := r.query(ctx, scope, frag)
		if err != nil || !ok {
			return false, err
		}
		if opts.MustBeVisible {
			visible, err := r.prims.IsVisible(ctx, h)
			if err != nil || !visible {
				r.prims.Release(ctx, h)
				return false, err
			}
		}
		match = h
		return true, nil
	})
	if err != nil {
		var te *wait.TimeoutError
		if errors.As(err, &te) {
			return dom.Handle{}, err
		}
		return dom.Handle{}, fmt.Errorf("query failed: %w", err)
	}
	return match, nil
}

func (r *Resolver) query(ctx context.Context, scope dom.Handle, frag Fragment) (dom.Handle, bool, error) {
	if frag.ARIA {
		return r.prims.QueryARIA(ctx, scope, frag.Name, frag.Role)
	}
	return r.prims.QueryCSS(ctx, scope, frag.CSS)
}
