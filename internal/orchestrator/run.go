// File: internal/orchestrator/run.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
	"github.com/xkilldash9x/visa-resched/internal/browser/intercept"
	"github.com/xkilldash9x/visa-resched/internal/browser/selector"
	"github.com/xkilldash9x/visa-resched/internal/browser/viewport"
	"github.com/xkilldash9x/visa-resched/internal/browser/wait"
)

// run is the state of a single execution.
type run struct {
	opts        Options
	tab         Tab
	apt         appointment.Context
	policy      *appointment.Policy
	resolver    *selector.Resolver
	viewport    *viewport.Interactor
	interceptor *intercept.Interceptor
	timer       *Timer
	log         *zap.Logger

	threshold appointment.Date
}

func newRun(o *Orchestrator, tab Tab, apt appointment.Context, log *zap.Logger) *run {
	target := intercept.AvailabilityURL(o.opts.BaseURL, apt.Region, apt.AppointmentID, apt.ConsularID)
	return &run{
		opts:        o.opts,
		tab:         tab,
		apt:         apt,
		policy:      o.policy,
		resolver:    selector.NewResolver(tab, log),
		viewport:    viewport.NewInteractor(tab, log),
		interceptor: intercept.New(tab, target, o.opts.Availability, log),
		timer:       NewTimer(apt.RunID, o.logger),
		log:         log,
		threshold:   apt.Limit,
	}
}

// step is one stage body. proceed=false ends the run early without error.
type step struct {
	stage Stage
	fn    func(ctx context.Context) (proceed bool, err error)
}

func always(fn func(ctx context.Context) error) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return true, fn(ctx) }
}

func (r *run) plan() []step {
	return []step{
		{StageViewport, always(func(ctx context.Context) error {
			return r.tab.SetViewport(ctx, r.opts.ViewportWidth, r.opts.ViewportHeight)
		})},
		{StageLoginPage, always(func(ctx context.Context) error {
			return r.tab.Navigate(ctx, SignInURL(r.opts.BaseURL, r.apt.Region))
		})},
		{StageFocusUsername, always(func(ctx context.Context) error {
			return r.interact(ctx, usernameField, r.tab.Click)
		})},
		{StageTypeUsername, always(func(ctx context.Context) error {
			return r.interact(ctx, usernameField, func(ctx context.Context, h dom.Handle) error {
				return r.typeInto(ctx, h, r.apt.Username)
			})
		})},
		{StageTabToPassword, always(func(ctx context.Context) error {
			return r.tab.PressKey(ctx, "Tab")
		})},
		{StageTypePassword, always(func(ctx context.Context) error {
			return r.interact(ctx, passwordField, func(ctx context.Context, h dom.Handle) error {
				return r.typeInto(ctx, h, r.apt.Password)
			})
		})},
		{StageAgreement, always(func(ctx context.Context) error {
			return r.interact(ctx, agreementBox, r.tab.Click)
		})},
		{StageSignIn, always(func(ctx context.Context) error {
			return r.interact(ctx, signInButton, r.tab.ClickAndWaitNavigation)
		})},
		{StageCurrentAppointment, always(r.readCurrentAppointment)},
		{StageAppointmentPage, always(func(ctx context.Context) error {
			return r.tab.Navigate(ctx, AppointmentURL(r.opts.BaseURL, r.apt.Region, r.apt.AppointmentID))
		})},
		{StageGroup, always(r.confirmGroup)},
		{StageConsular, always(func(ctx context.Context) error {
			err := r.interact(ctx, consularSelect, func(ctx context.Context, h dom.Handle) error {
				return r.tab.SelectOption(ctx, h, r.apt.ConsularID)
			})
			if err != nil {
				return err
			}
			return wait.Sleep(ctx, r.opts.Settle)
		})},
		{StageAvailability, r.checkAvailability},
		{StageOpenDatePicker, always(func(ctx context.Context) error {
			if err := r.interact(ctx, dateInput, r.tab.Click); err != nil {
				return err
			}
			return wait.Sleep(ctx, r.opts.Settle)
		})},
		{StageCalendar, always(r.pickDay)},
		{StageTime, always(func(ctx context.Context) error {
			err := r.interact(ctx, timeSelect, func(ctx context.Context, h dom.Handle) error {
				return r.tab.SelectOptionAt(ctx, h, timeOptionIndex)
			})
			if err != nil {
				return err
			}
			return wait.Sleep(ctx, r.opts.Settle)
		})},
		{StageReschedule, always(func(ctx context.Context) error {
			if err := r.interact(ctx, rescheduleButton, r.tab.Click); err != nil {
				return err
			}
			return wait.Sleep(ctx, r.opts.Settle)
		})},
		{StageConfirm, always(func(ctx context.Context) error {
			if err := r.interact(ctx, confirmButton, r.tab.Click); err != nil {
				return err
			}
			return wait.Sleep(ctx, r.opts.ConfirmSettle)
		})},
	}
}

// execute walks the plan in order.
func (r *run) execute(ctx context.Context) (bool, error) {
	for _, s := range r.plan() {
		r.timer.Begin(s.stage)
		proceed, err := s.fn(ctx)
		if err != nil {
			return false, fmt.Errorf("%s: %w", s.stage, err)
		}
		r.timer.End()
		if !proceed {
			return false, nil
		}
	}
	r.timer.Finish()
	return true, nil
}

// interact resolves spec, makes the element interactable and hands it to fn.
// The handle is released afterwards.
func (r *run) interact(ctx context.Context, spec selector.Spec, fn func(ctx context.Context, h dom.Handle) error) error {
	h, err := r.resolve(ctx, spec, r.opts.ElementTimeout)
	if err != nil {
		return err
	}
	defer r.tab.Release(ctx, h)

	if err := r.viewport.EnsureInteractable(ctx, h, r.opts.ElementTimeout); err != nil {
		return err
	}
	return fn(ctx, h)
}

func (r *run) resolve(ctx context.Context, spec selector.Spec, timeout time.Duration) (dom.Handle, error) {
	return r.resolver.Resolve(ctx, spec, selector.Options{Timeout: timeout, MustBeVisible: true})
}

// typeInto types text into text-like fields and assigns the value (with
// input and change events) for anything else.
func (r *run) typeInto(ctx context.Context, h dom.Handle, text string) error {
	typ, err := r.tab.Property(ctx, h, "type")
	if err != nil {
		return fmt.Errorf("reading input type: %w", err)
	}
	if textInputTypes[typ] {
		return r.tab.TypeText(ctx, h, text)
	}
	if err := r.tab.Focus(ctx, h); err != nil {
		return err
	}
	return r.tab.SetValueWithEvents(ctx, h, text)
}

func (r *run) readCurrentAppointment(ctx context.Context) error {
	h, err := r.resolve(ctx, currentAppointment, r.opts.ElementTimeout)
	if err != nil {
		return err
	}
	defer r.tab.Release(ctx, h)

	text, err := r.tab.TextContent(ctx, h)
	if err != nil {
		return fmt.Errorf("reading current appointment: %w", err)
	}
	current, err := appointment.ParseCurrentAppointment(text)
	if err != nil {
		return err
	}
	r.threshold = appointment.EffectiveThreshold(r.apt.Limit, current)
	r.log.Info("The current appointment date is known.",
		zap.Stringer("current", current),
		zap.Stringer("threshold", r.threshold))
	return nil
}

func (r *run) confirmGroup(ctx context.Context) error {
	if !r.apt.Group {
		r.log.Debug("Single applicant; skipping group selection.")
		return nil
	}
	return r.interact(ctx, groupContinue, r.tab.Click)
}

func (r *run) checkAvailability(ctx context.Context) (bool, error) {
	d, err := r.policy.Evaluate(ctx, r.interceptor, r.apt, r.threshold)
	if err != nil {
		return false, err
	}
	return d.Proceed, nil
}

// pickDay looks for a bookable day with a short probe and advances the
// calendar by one month whenever none is shown, up to MaxCalendarPages times.
func (r *run) pickDay(ctx context.Context) error {
	for advances := 0; ; advances++ {
		day, err := r.resolve(ctx, bookableDay, r.opts.CalendarProbeTimeout)
		if err == nil {
			err = r.clickDay(ctx, day)
			r.tab.Release(ctx, day)
			return err
		}
		var nf *selector.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		if advances >= r.opts.MaxCalendarPages {
			return &CalendarExhaustedError{Pages: advances}
		}

		r.log.Debug("No bookable day on this page; advancing the calendar.", zap.Int("advances", advances+1))
		if err := r.interact(ctx, nextMonth, r.tab.Click); err != nil {
			return err
		}
	}
}

func (r *run) clickDay(ctx context.Context, h dom.Handle) error {
	if err := r.viewport.EnsureInteractable(ctx, h, r.opts.ElementTimeout); err != nil {
		return err
	}
	if err := r.tab.Click(ctx, h); err != nil {
		return err
	}
	return wait.Sleep(ctx, r.opts.DaySettle)
}
