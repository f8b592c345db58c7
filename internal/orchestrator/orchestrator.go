// File: internal/orchestrator/orchestrator.go
// Description: Drives one reschedule run through its stages against a single
// browser tab, which it owns from opening to release.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
	"github.com/xkilldash9x/visa-resched/internal/browser/intercept"
	"github.com/xkilldash9x/visa-resched/internal/config"
)

// SuccessMessage is sent once a new appointment has been submitted.
const SuccessMessage = "Successfully scheduled a new appointment"

const screenshotTimeout = 10 * time.Second

// CalendarExhaustedError reports that no bookable day appeared within the
// allowed number of month advances.
type CalendarExhaustedError struct {
	Pages int
}

func (e *CalendarExhaustedError) Error() string {
	return fmt.Sprintf("no bookable day found after advancing the calendar %d times", e.Pages)
}

// Page is the page level surface a run needs beyond the DOM primitives.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	Navigate(ctx context.Context, url string) error
	ClickAndWaitNavigation(ctx context.Context, h dom.Handle) error
	PressKey(ctx context.Context, key string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Tab is everything a run does with its browser tab.
type Tab interface {
	dom.Primitives
	Page
	intercept.Source
}

// TabOpener provides a fresh tab per run.
type TabOpener interface {
	NewTab(ctx context.Context) (Tab, error)
}

// TabOpenerFunc adapts a function to TabOpener.
type TabOpenerFunc func(ctx context.Context) (Tab, error)

func (f TabOpenerFunc) NewTab(ctx context.Context) (Tab, error) { return f(ctx) }

// Options holds the site location and every wait budget of a run.
type Options struct {
	BaseURL        string
	ViewportWidth  int
	ViewportHeight int

	ElementTimeout       time.Duration
	CalendarProbeTimeout time.Duration
	Settle               time.Duration
	DaySettle            time.Duration
	ConfirmSettle        time.Duration

	Availability intercept.Options
	// MaxCalendarPages caps the "next month" advances.
	MaxCalendarPages int
	// ScreenshotDir receives a PNG of the page when a run fails. Empty disables it.
	ScreenshotDir string
}

// OptionsFromConfig maps the application configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:              cfg.Appointment.BaseURL,
		ViewportWidth:        cfg.Browser.Viewport.Width,
		ViewportHeight:       cfg.Browser.Viewport.Height,
		ElementTimeout:       cfg.Timeouts.Element,
		CalendarProbeTimeout: cfg.Timeouts.CalendarProbe,
		Settle:               cfg.Timeouts.Settle,
		DaySettle:            cfg.Timeouts.DaySettle,
		ConfirmSettle:        cfg.Timeouts.ConfirmSettle,
		Availability: intercept.Options{
			Attempts: cfg.Availability.PollAttempts,
			Interval: cfg.Availability.PollInterval,
		},
		MaxCalendarPages: cfg.Calendar.MaxPages,
		ScreenshotDir:    cfg.Browser.ScreenshotDir,
	}
}

// Orchestrator runs the reschedule workflow. It holds no per-run state and
// may be reused for consecutive runs, which must not overlap.
type Orchestrator struct {
	opts     Options
	opener   TabOpener
	notifier appointment.Notifier
	policy   *appointment.Policy
	logger   *zap.Logger
}

// New creates an Orchestrator.
func New(opts Options, opener TabOpener, notifier appointment.Notifier, logger *zap.Logger) (*Orchestrator, error) {
	if opener == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if opts.ElementTimeout <= 0 || opts.CalendarProbeTimeout <= 0 {
		return nil, fmt.Errorf("element and calendar probe timeouts must be positive")
	}
	if opts.MaxCalendarPages <= 0 {
		return nil, fmt.Errorf("max calendar pages must be positive, got %d", opts.MaxCalendarPages)
	}
	return &Orchestrator{
		opts:     opts,
		opener:   opener,
		notifier: notifier,
		policy:   appointment.NewPolicy(notifier, logger),
		logger:   logger.Named("orchestrator"),
	}, nil
}

// Run executes one reschedule attempt. It returns true when a new appointment
// was submitted and false when no acceptable date was offered. The tab is
// released on every path.
func (o *Orchestrator) Run(ctx context.Context, apt appointment.Context) (booked bool, err error) {
	if err := apt.Validate(); err != nil {
		return false, fmt.Errorf("invalid appointment context: %w", err)
	}
	log := o.logger.With(zap.Uint64("run_id", apt.RunID))

	tab, err := o.opener.NewTab(ctx)
	if err != nil {
		return false, fmt.Errorf("opening tab: %w", err)
	}

	r := newRun(o, tab, apt, log)
	r.interceptor.Start()

	defer func() {
		r.interceptor.Stop()
		if err != nil {
			log.Error("Run failed.", zap.String("stage", r.timer.Current().String()), zap.Error(err))
			o.captureFailure(tab, apt.RunID, r.timer.Current(), log)
		}
		if cerr := tab.Close(); cerr != nil {
			log.Warn("Failed to release tab.", zap.Error(cerr))
		}
	}()

	booked, err = r.execute(ctx)
	if err != nil {
		return false, err
	}
	if booked {
		o.notifier.Notify(ctx, apt.NotifyAddress, SuccessMessage)
	}
	return booked, nil
}

func (o *Orchestrator) captureFailure(tab Tab, runID uint64, stage Stage, log *zap.Logger) {
	if o.opts.ScreenshotDir == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	png, err := tab.Screenshot(ctx)
	if err != nil {
		log.Warn("Failed to capture failure screenshot.", zap.Error(err))
		return
	}
	if err := os.MkdirAll(o.opts.ScreenshotDir, 0o755); err != nil {
		log.Warn("Failed to create screenshot directory.", zap.Error(err))
		return
	}
	path := filepath.Join(o.opts.ScreenshotDir, fmt.Sprintf("run-%d-%s.png", runID, stage.Slug()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		log.Warn("Failed to write failure screenshot.", zap.Error(err))
		return
	}
	log.Info("Failure screenshot saved.", zap.String("path", path))
}

// IsCalendarExhausted reports whether err is a *CalendarExhaustedError.
func IsCalendarExhausted(err error) bool {
	var ce *CalendarExhaustedError
	return errors.As(err, &ce)
}
