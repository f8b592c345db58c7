// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// CombineContext returns a context that carries tabCtx's values (the chromedp
// target) and ends when either tabCtx or opCtx ends. Tab operations use it so
// that a run's deadline applies without losing the CDP connection info.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// detached keeps the parent's values but none of its cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values that is never cancelled with it.
// Cleanup calls (releasing remote objects, closing the tab) run on it so they
// still reach the browser after the run's context has ended.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}

// StartTarget performs the first chromedp.Run on target, which launches the
// browser or attaches a tab. chromedp binds the process or the target's event
// loop to the context of that first Run, so it runs on target itself and ctx
// only bounds how long the caller waits. On error the caller cancels target.
func StartTarget(ctx, target context.Context, actions ...chromedp.Action) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(target, actions...) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
