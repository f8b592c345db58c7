// internal/browser/viewport/viewport.go
package viewport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
	"github.com/xkilldash9x/visa-resched/internal/browser/wait"
)

// Interactor brings elements into an interactable state before they are acted on.
type Interactor struct {
	prims  dom.Primitives
	logger *zap.Logger
}

// NewInteractor creates an Interactor over the given primitives.
func NewInteractor(prims dom.Primitives, logger *zap.Logger) *Interactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interactor{prims: prims, logger: logger.Named("viewport")}
}

// EnsureInteractable waits for h to be attached to the document and to
// intersect the viewport, scrolling it to the center when it does not.
// Each wait gets the full timeout.
func (i *Interactor) EnsureInteractable(ctx context.Context, h dom.Handle, timeout time.Duration) error {
	err := wait.Until(ctx, fmt.Sprintf("wait for %s to be connected", h), timeout, func(ctx context.Context) (bool, error) {
		return i.prims.IsConnected(ctx, h)
	})
	if err != nil {
		return err
	}

	inView, err := i.prims.IntersectsViewport(ctx, h)
	if err != nil {
		return fmt.Errorf("checking viewport intersection of %s: %w", h, err)
	}
	if inView {
		return nil
	}

	i.logger.Debug("Element outside viewport, scrolling into view.", zap.Stringer("element", h))
	if err := i.prims.ScrollIntoViewCenter(ctx, h); err != nil {
		return fmt.Errorf("scrolling %s into view: %w", h, err)
	}

	return wait.Until(ctx, fmt.Sprintf("wait for %s to enter the viewport", h), timeout, func(ctx context.Context) (bool, error) {
		return i.prims.IntersectsViewport(ctx, h)
	})
}
