// File: cmd/app.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/browser"
	"github.com/xkilldash9x/visa-resched/internal/browser/session"
	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/notify"
	"github.com/xkilldash9x/visa-resched/internal/orchestrator"
)

var _ orchestrator.Tab = (*session.Tab)(nil)

// runner performs reschedule runs and owns the resources they share.
type runner interface {
	Run(ctx context.Context, apt appointment.Context) (bool, error)
	Close(ctx context.Context) error
}

// newRunner is swapped out in tests.
var newRunner = newApp

// app wires the browser, the notifier and the orchestrator together.
type app struct {
	cfg      *config.Config
	browser  *browser.Manager
	notifier notify.Notifier
	orch     *orchestrator.Orchestrator
}

func newApp(cfg *config.Config, logger *zap.Logger) (runner, error) {
	mgr := browser.NewManager(cfg.Browser, cfg.Timeouts.Navigation, logger)
	notifier := notify.New(cfg.Notify, logger)

	opener := orchestrator.TabOpenerFunc(func(ctx context.Context) (orchestrator.Tab, error) {
		tab, err := mgr.NewTab(ctx)
		if err != nil {
			return nil, err
		}
		return tab, nil
	})

	orch, err := orchestrator.New(orchestrator.OptionsFromConfig(cfg), opener, notifier, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, browser: mgr, notifier: notifier, orch: orch}, nil
}

func (a *app) Run(ctx context.Context, apt appointment.Context) (bool, error) {
	return a.orch.Run(ctx, apt)
}

// Close drains pending notifications, then shuts the browser down.
func (a *app) Close(ctx context.Context) error {
	notifyCtx, cancel := context.WithTimeout(ctx, a.cfg.Notify.Timeout)
	defer cancel()

	var errs []error
	if err := a.notifier.Close(notifyCtx); err != nil {
		errs = append(errs, fmt.Errorf("closing notifier: %w", err))
	}
	if err := a.browser.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
