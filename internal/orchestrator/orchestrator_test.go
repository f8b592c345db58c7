// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/browser/selector"
	"github.com/xkilldash9x/visa-resched/internal/browser/wait"
	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestOrchestrator(t *testing.T, site *fakeSite, opts Options) (*Orchestrator, *mocks.MockNotifier) {
	t.Helper()
	notifier := &mocks.MockNotifier{}
	o, err := New(opts, site.opener(), notifier, zaptest.NewLogger(t))
	require.NoError(t, err)
	return o, notifier
}

func TestNew(t *testing.T) {
	site := newFakeSite(t, "")
	logger := zaptest.NewLogger(t)

	_, err := New(testOptions(), nil, &mocks.MockNotifier{}, logger)
	assert.Error(t, err)

	opts := testOptions()
	opts.MaxCalendarPages = 0
	_, err = New(opts, site.opener(), &mocks.MockNotifier{}, logger)
	assert.Error(t, err)

	opts = testOptions()
	opts.ElementTimeout = 0
	_, err = New(opts, site.opener(), &mocks.MockNotifier{}, logger)
	assert.Error(t, err)
}

func TestRun_BooksEarlierDate(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-09-01", "2025-06-01"))
	site.emptyPages = 2
	o, notifier := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.True(t, booked)

	p := site.page
	assert.True(t, p.IsClosed(), "tab must be released")
	assert.Equal(t, [2]int{2078, 1479}, p.Viewport)
	assert.Equal(t, []string{
		"https://visa.test/en-co/niv/users/sign_in",
		"https://visa.test/en-co/niv/schedule/123456/appointment",
	}, p.Navigated)
	assert.Equal(t, []string{"Tab"}, p.Keys)

	// Typing protocol: email is typed, the hidden field gets its value assigned.
	assert.Equal(t, "user@example.com", p.Element("email").Value)
	assert.Contains(t, p.Calls(), "type email")
	assert.Contains(t, p.Calls(), "focus password")
	assert.Contains(t, p.Calls(), "setvalue password")
	assert.Equal(t, "secret", p.Element("password").Value)

	assert.Contains(t, p.Calls(), "navigation", "sign in waits for the next page")
	assert.Equal(t, []string{"select facility 25"}, p.CallsWithPrefix("select "))
	assert.Equal(t, []string{"click next", "click next"}, p.CallsWithPrefix("click next"))
	assert.Equal(t, []string{"click day"}, p.CallsWithPrefix("click day"))
	assert.Equal(t, []string{"selectat time 1"}, p.CallsWithPrefix("selectat"))
	assert.Equal(t, "08:15", p.Element("time").Value)
	assert.Empty(t, p.CallsWithPrefix("click continue"), "single applicant skips the group stage")

	assert.Equal(t, []string{"Found an earlier date! 2025-06-01", SuccessMessage}, notifier.Messages())
}

func TestRun_StageOrderAndTiming(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-06-01"))
	site.showDayImmediately()

	core, logs := observer.New(zap.InfoLevel)
	o, err := New(testOptions(), site.opener(), &mocks.MockNotifier{}, zap.New(core))
	require.NoError(t, err)

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	require.True(t, booked)

	completed := logs.FilterMessage("Stage completed.").All()
	require.Len(t, completed, len(Stages()))
	for i, entry := range completed {
		fields := entry.ContextMap()
		assert.Equal(t, Stage(i).String(), fields["stage"])
		assert.EqualValues(t, i, fields["stage_index"])
		assert.EqualValues(t, 7, fields["run_id"])
		assert.Contains(t, fields, "elapsed")
	}
	assert.Equal(t, 1, logs.FilterMessage("Finished").Len())
}

func TestRun_GroupAppointment(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-06-01"))
	site.showDayImmediately()
	site.apt.Group = true
	o, _ := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.True(t, booked)
	assert.Equal(t, []string{"click continue"}, site.page.CallsWithPrefix("click continue"))
}

// Scenario A: the availability listing never arrives.
func TestRun_AvailabilityTimeoutReleasesTab(t *testing.T) {
	site := newFakeSite(t, "")
	o, notifier := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.Error(t, err)
	assert.False(t, booked)
	assert.True(t, wait.IsTimeout(err), "got %v", err)
	assert.True(t, site.page.IsClosed())
	assert.Empty(t, notifier.Messages())
}

// Scenario B: the only date equals the effective threshold.
func TestRun_DateEqualToThresholdDoesNotBook(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-12-01"))
	o, notifier := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.False(t, booked)
	assert.True(t, site.page.IsClosed())
	assert.Empty(t, site.page.CallsWithPrefix("query document aria:Date of Appointment"), "date picker must not be touched")
	assert.Empty(t, site.page.CallsWithPrefix("click date-input"))
	assert.Empty(t, notifier.Messages())
}

func TestRun_NoDates(t *testing.T) {
	site := newFakeSite(t, "[]")
	o, notifier := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.False(t, booked)
	assert.Empty(t, site.page.CallsWithPrefix("click date-input"))
	assert.Empty(t, notifier.Messages())
}

func TestRun_CurrentAppointmentLowersThreshold(t *testing.T) {
	// The held appointment (2026-03-15) is earlier than the caller's limit, so
	// a date between the two must not be booked.
	site := newFakeSite(t, listingOf("2026-04-01"))
	site.apt.Limit = appointment.MustDate("2026-06-01")
	o, _ := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.False(t, booked)
}

func TestRun_MalformedCurrentAppointment(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-06-01"))
	site.page.Element("current").Text = "No appointment scheduled"
	o, _ := newTestOrchestrator(t, site, testOptions())

	_, err := o.Run(context.Background(), site.apt)
	var ve *appointment.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, site.page.IsClosed())
	assert.Empty(t, site.page.CallsWithPrefix("navigate https://visa.test/en-co/niv/schedule"))
}

func TestRun_CalendarExhausted(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-06-01"))
	site.emptyPages = 100
	opts := testOptions()
	opts.MaxCalendarPages = 3
	o, notifier := newTestOrchestrator(t, site, opts)

	booked, err := o.Run(context.Background(), site.apt)
	assert.False(t, booked)
	var ce *CalendarExhaustedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Pages)
	assert.True(t, IsCalendarExhausted(err))
	assert.Len(t, site.page.CallsWithPrefix("click next"), 3)
	assert.True(t, site.page.IsClosed())
	assert.Equal(t, []string{"Found an earlier date! 2025-06-01"}, notifier.Messages())
}

func TestRun_MissingElementFailsWithNotFound(t *testing.T) {
	site := newFakeSite(t, listingOf("2025-06-01"))
	site.page.Element("sign-in").Visible = false
	opts := testOptions()
	opts.ElementTimeout = 30 * opts.CalendarProbeTimeout / 10
	o, _ := newTestOrchestrator(t, site, opts)

	_, err := o.Run(context.Background(), site.apt)
	var nf *selector.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, signInButton.Candidates(), nf.Candidates)
	assert.Contains(t, err.Error(), StageSignIn.String())
	assert.True(t, site.page.IsClosed())
}

func TestRun_FailureScreenshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	site := newFakeSite(t, "")
	opts := testOptions()
	opts.ScreenshotDir = dir
	o, _ := newTestOrchestrator(t, site, opts)

	_, err := o.Run(context.Background(), site.apt)
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "run-7-availability.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestRun_CloseErrorDoesNotMaskResult(t *testing.T) {
	site := newFakeSite(t, "[]")
	site.page.CloseErr = errors.New("target already gone")
	o, _ := newTestOrchestrator(t, site, testOptions())

	booked, err := o.Run(context.Background(), site.apt)
	require.NoError(t, err)
	assert.False(t, booked)
}

func TestRun_InvalidContext(t *testing.T) {
	site := newFakeSite(t, "")
	o, _ := newTestOrchestrator(t, site, testOptions())

	apt := site.apt
	apt.Password = ""
	_, err := o.Run(context.Background(), apt)
	require.Error(t, err)
	assert.Empty(t, site.page.Calls(), "no tab work for an invalid context")
}

func TestRun_OpenTabError(t *testing.T) {
	opener := TabOpenerFunc(func(context.Context) (Tab, error) { return nil, errors.New("browser crashed") })
	o, err := New(testOptions(), opener, &mocks.MockNotifier{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), testAppointment())
	assert.ErrorContains(t, err, "browser crashed")
}

func TestRun_Cancelled(t *testing.T) {
	site := newFakeSite(t, "")
	o, _ := newTestOrchestrator(t, site, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, site.apt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, site.page.IsClosed())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ScreenshotDir = "/tmp/shots"
	opts := OptionsFromConfig(cfg)

	assert.Equal(t, "https://ais.usvisa-info.com", opts.BaseURL)
	assert.Equal(t, 2078, opts.ViewportWidth)
	assert.Equal(t, 1479, opts.ViewportHeight)
	assert.Equal(t, cfg.Timeouts.Element, opts.ElementTimeout)
	assert.Equal(t, cfg.Timeouts.CalendarProbe, opts.CalendarProbeTimeout)
	assert.Equal(t, 10, opts.Availability.Attempts)
	assert.Equal(t, 36, opts.MaxCalendarPages)
	assert.Equal(t, "/tmp/shots", opts.ScreenshotDir)
}
