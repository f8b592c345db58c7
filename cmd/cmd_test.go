// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/observability"
)

// fakeRunner records the contexts it was run with.
type fakeRunner struct {
	mu     sync.Mutex
	runs   []appointment.Context
	result func(runID uint64) (bool, error)
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, apt appointment.Context) (bool, error) {
	f.mu.Lock()
	f.runs = append(f.runs, apt)
	f.mu.Unlock()
	if f.result == nil {
		return false, nil
	}
	return f.result(apt.RunID)
}

func (f *fakeRunner) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRunner) runIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, len(f.runs))
	for i, r := range f.runs {
		ids[i] = r.RunID
	}
	return ids
}

// resetForTest isolates each test from package state and the environment.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	t.Cleanup(func() {
		cfgFile = ""
		newRunner = newApp
		observability.ResetForTest()
	})
	t.Chdir(t.TempDir())
	t.Setenv("VISA_RESCHED_LOGGER_LEVEL", "fatal")
}

func setAppointmentEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VISA_RESCHED_USERNAME", "user@example.com")
	t.Setenv("VISA_RESCHED_PASSWORD", "secret")
	t.Setenv("VISA_RESCHED_APPOINTMENT_ID", "123456")
	t.Setenv("VISA_RESCHED_APPOINTMENT_CONSULAR_ID", "25")
	t.Setenv("VISA_RESCHED_APPOINTMENT_REGION", "co")
	t.Setenv("VISA_RESCHED_APPOINTMENT_LIMIT_DATE", "2025-12-01")
}

func useRunner(f *fakeRunner) {
	newRunner = func(*config.Config, *zap.Logger) (runner, error) { return f, nil }
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "visa-resched version "+Version)
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	resetForTest(t)
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Looks for an earlier visa appointment")
	for _, sub := range []string{"run", "watch", "check-date"} {
		assert.Contains(t, out, sub)
	}
}

func TestRunCmd(t *testing.T) {
	t.Run("Booked", func(t *testing.T) {
		resetForTest(t)
		setAppointmentEnv(t)
		f := &fakeRunner{result: func(uint64) (bool, error) { return true, nil }}
		useRunner(f)

		out, err := execute(t, "run")
		require.NoError(t, err)
		assert.Equal(t, "booked=true\n", out)
		assert.Equal(t, []uint64{1}, f.runIDs())
		assert.True(t, f.closed)
	})

	t.Run("FlagsOverrideEnvironment", func(t *testing.T) {
		resetForTest(t)
		setAppointmentEnv(t)
		f := &fakeRunner{}
		useRunner(f)

		out, err := execute(t, "run", "--consular-id", "26", "--limit-date", "2025-10-01", "--group")
		require.NoError(t, err)
		assert.Equal(t, "booked=false\n", out)
		require.Len(t, f.runs, 1)
		assert.Equal(t, "26", f.runs[0].ConsularID)
		assert.Equal(t, appointment.MustDate("2025-10-01"), f.runs[0].Limit)
		assert.True(t, f.runs[0].Group)
		assert.Equal(t, "user@example.com", f.runs[0].Username)
	})

	t.Run("LegacyEnvironmentNames", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("US_VISA_USERNAME", "legacy@example.com")
		t.Setenv("US_VISA_PASSWORD", "pw")
		t.Setenv("US_VISA_APPOINTMENT_ID", "1")
		t.Setenv("US_VISA_CONSULAR_ID", "2")
		t.Setenv("US_VISA_REGION", "mx")
		t.Setenv("US_VISA_CURRENT_DATE", "2026-01-10")
		t.Setenv("USER_TOKEN", "user-key")
		f := &fakeRunner{}
		useRunner(f)

		_, err := execute(t, "run")
		require.NoError(t, err)
		require.Len(t, f.runs, 1)
		assert.Equal(t, "legacy@example.com", f.runs[0].Username)
		assert.Equal(t, "mx", f.runs[0].Region)
		assert.Equal(t, "user-key", f.runs[0].NotifyAddress)
	})

	t.Run("RunFailure", func(t *testing.T) {
		resetForTest(t)
		setAppointmentEnv(t)
		f := &fakeRunner{result: func(uint64) (bool, error) { return false, errors.New("selector not found") }}
		useRunner(f)

		_, err := execute(t, "run")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run 1 failed")
		assert.True(t, f.closed, "resources are released on failure")
	})

	t.Run("IncompleteAppointment", func(t *testing.T) {
		resetForTest(t)
		f := &fakeRunner{}
		useRunner(f)

		_, err := execute(t, "run")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "username is required")
		assert.Empty(t, f.runs)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		resetForTest(t)
		path := filepath.Join(t.TempDir(), "resched.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
appointment:
  username: file@example.com
  password: pw
  id: "77"
  consular_id: "25"
  region: co
  limit_date: "2025-08-01"
`), 0o600))
		f := &fakeRunner{}
		useRunner(f)

		_, err := execute(t, "run", "--config", path)
		require.NoError(t, err)
		require.Len(t, f.runs, 1)
		assert.Equal(t, "77", f.runs[0].AppointmentID)
		assert.Equal(t, "file@example.com", f.runs[0].Username)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		resetForTest(t)
		setAppointmentEnv(t)
		t.Setenv("VISA_RESCHED_CALENDAR_MAX_PAGES", "0")
		useRunner(&fakeRunner{})

		_, err := execute(t, "run")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "calendar.max_pages")
	})
}

func TestCheckDateCmd(t *testing.T) {
	t.Run("CallerLimitIsEarlier", func(t *testing.T) {
		resetForTest(t)
		out, err := execute(t, "check-date", "--limit", "2025-12-01", "--current", "15 March, 2026")
		require.NoError(t, err)
		assert.Equal(t, "current=2026-03-15 threshold=2025-12-01\n", out)
	})

	t.Run("HeldAppointmentIsEarlier", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("VISA_RESCHED_APPOINTMENT_LIMIT_DATE", "2026-06-01")
		out, err := execute(t, "check-date", "--current", "10 January, 2026")
		require.NoError(t, err)
		assert.Equal(t, "current=2026-01-10 threshold=2026-01-10\n", out)
	})

	t.Run("MalformedCurrent", func(t *testing.T) {
		resetForTest(t)
		_, err := execute(t, "check-date", "--limit", "2025-12-01", "--current", "sometime soon")
		var ve *appointment.ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestWatch(t *testing.T) {
	newConfig := func(t *testing.T) *config.Config {
		t.Helper()
		cfg := config.NewDefaultConfig()
		cfg.Appointment = config.AppointmentConfig{
			Username: "u", Password: "p", ID: "1", ConsularID: "25", Region: "co", LimitDate: "2025-12-01",
		}
		cfg.Watch.Interval = time.Millisecond
		return cfg
	}

	t.Run("StopsAfterMaxRuns", func(t *testing.T) {
		cfg := newConfig(t)
		cfg.Watch.MaxRuns = 3
		f := &fakeRunner{}
		var out bytes.Buffer

		require.NoError(t, watch(context.Background(), f, cfg, zaptest.NewLogger(t), &out))
		assert.Equal(t, []uint64{1, 2, 3}, f.runIDs())
		assert.Equal(t, "run=1 booked=false\nrun=2 booked=false\nrun=3 booked=false\n", out.String())
	})

	t.Run("StopsOnSuccess", func(t *testing.T) {
		cfg := newConfig(t)
		cfg.Watch.StopOnSuccess = true
		f := &fakeRunner{result: func(id uint64) (bool, error) { return id == 2, nil }}

		require.NoError(t, watch(context.Background(), f, cfg, zaptest.NewLogger(t), &bytes.Buffer{}))
		assert.Equal(t, []uint64{1, 2}, f.runIDs())
	})

	t.Run("FailedRunsDoNotStopTheLoop", func(t *testing.T) {
		cfg := newConfig(t)
		cfg.Watch.MaxRuns = 3
		f := &fakeRunner{result: func(id uint64) (bool, error) {
			if id < 3 {
				return false, errors.New("timed out")
			}
			return false, nil
		}}
		var out bytes.Buffer

		require.NoError(t, watch(context.Background(), f, cfg, zaptest.NewLogger(t), &out))
		assert.Equal(t, []uint64{1, 2, 3}, f.runIDs())
		assert.Equal(t, "run=3 booked=false\n", out.String())
	})

	t.Run("CancellationEndsTheLoop", func(t *testing.T) {
		cfg := newConfig(t)
		cfg.Watch.Interval = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		f := &fakeRunner{result: func(uint64) (bool, error) {
			cancel()
			return false, context.Canceled
		}}

		require.NoError(t, watch(ctx, f, cfg, zaptest.NewLogger(t), &bytes.Buffer{}))
		assert.Equal(t, []uint64{1}, f.runIDs())
	})

	t.Run("WaitsForTheTick", func(t *testing.T) {
		cfg := newConfig(t)
		cfg.Watch.Interval = time.Hour
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		f := &fakeRunner{}

		require.NoError(t, watch(ctx, f, cfg, zaptest.NewLogger(t), &bytes.Buffer{}))
		assert.Equal(t, []uint64{1}, f.runIDs(), "the second run waits for the interval")
	})
}
