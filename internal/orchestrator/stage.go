// File: internal/orchestrator/stage.go
package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage is one checkpoint of a run. Stages execute strictly in order.
type Stage int

const (
	StageViewport Stage = iota
	StageLoginPage
	StageFocusUsername
	StageTypeUsername
	StageTabToPassword
	StageTypePassword
	StageAgreement
	StageSignIn
	StageCurrentAppointment
	StageAppointmentPage
	StageGroup
	StageConsular
	StageAvailability
	StageOpenDatePicker
	StageCalendar
	StageTime
	StageReschedule
	StageConfirm

	stageCount
)

var stageLabels = [stageCount]string{
	"Set the viewport to avoid elements changing places",
	"Go to login page",
	"Click on username input",
	"Type username",
	"Hit tab to go to the password input",
	"Type password",
	"Tick the checkbox for agreement",
	"Click login button",
	"Retrieve current appointment data",
	"Go to appointment page",
	"Select multiple people if it is a group appointment",
	"Select the specified consular from the dropdown",
	"Check available dates from the API",
	"Click on date input",
	"Keep clicking next button until we find the first available date and click to that date",
	"Select the first available Time from the time dropdown",
	"Click on reschedule button",
	"Click on submit button on the confirmation popup",
}

// Short names, used in file names.
var stageSlugs = [stageCount]string{
	"viewport", "login-page", "focus-username", "type-username", "tab-to-password",
	"type-password", "agreement", "sign-in", "current-appointment", "appointment-page",
	"group", "consular", "availability", "open-date-picker", "calendar", "time",
	"reschedule", "confirm",
}

// Stages returns every stage in execution order.
func Stages() []Stage {
	out := make([]Stage, stageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

func (s Stage) valid() bool { return s >= 0 && s < stageCount }

// String returns the human readable label.
func (s Stage) String() string {
	if !s.valid() {
		return "unknown stage"
	}
	return stageLabels[s]
}

// Slug returns a short, file name safe identifier.
func (s Stage) Slug() string {
	if !s.valid() {
		return "unknown"
	}
	return stageSlugs[s]
}

// Timer records how long each stage of one run takes and logs it, keyed by
// the run id. A Timer is used by a single run.
type Timer struct {
	runID  uint64
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	runStart   time.Time
	current    Stage
	stageStart time.Time
	active     bool
	completed  []Stage
}

// NewTimer starts the overall clock for run runID.
func NewTimer(runID uint64, logger *zap.Logger) *Timer {
	return newTimer(runID, logger, time.Now)
}

func newTimer(runID uint64, logger *zap.Logger, now func() time.Time) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{
		runID:    runID,
		logger:   logger.Named("timer").With(zap.Uint64("run_id", runID)),
		now:      now,
		runStart: now(),
	}
}

// Begin starts timing s.
func (t *Timer) Begin(s Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = s
	t.stageStart = t.now()
	t.active = true
}

// End stops timing the current stage and logs its duration.
func (t *Timer) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	t.completed = append(t.completed, t.current)
	t.logger.Info("Stage completed.",
		zap.String("stage", t.current.String()),
		zap.Int("stage_index", int(t.current)),
		zap.Duration("elapsed", t.now().Sub(t.stageStart)))
}

// Current returns the stage being timed, or the last one begun.
func (t *Timer) Current() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Completed returns the stages that ended, in order.
func (t *Timer) Completed() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Stage(nil), t.completed...)
}

// Finish logs the total run duration.
func (t *Timer) Finish() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.now().Sub(t.runStart)
	t.logger.Info("Finished", zap.Duration("elapsed", total), zap.Int("stages", len(t.completed)))
	return total
}
