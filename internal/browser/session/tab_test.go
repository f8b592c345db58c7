// internal/browser/session/tab_test.go
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/visa-resched/internal/browser/dom"
)

const fixtureHTML = `<!doctype html>
<html><body style="margin:0">
<form id="sign_in_form">
  <label for="user_email">Email *</label>
  <input id="user_email" type="email">
  <input id="plain" type="hidden">
  <select id="facility">
    <option value="">--</option>
    <option value="25">Bogota</option>
    <option value="26">Medellin</option>
  </select>
  <p class="consular-appt">15 March, 2026, 08:15 Bogota</p>
</form>
<div style="height:3000px"></div>
<button id="far">Far away</button>
<my-host id="host"></my-host>
<script>
  document.getElementById('host').attachShadow({mode: 'open'}).innerHTML = '<button id="inner">Inner</button>';
  window.changes = 0;
  document.getElementById('facility').addEventListener('change', () => window.changes++);
</script>
</body></html>`

// newTestBrowser starts a headless browser and a fixture server. Tests are
// skipped when no Chrome binary is available.
func newTestBrowser(t *testing.T) (browserCtx context.Context, ctx context.Context, fixtureURL string) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	found := false
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixtureHTML)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox, chromedp.DisableGPU)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	t.Cleanup(allocCancel)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	t.Cleanup(browserCancel)
	require.NoError(t, chromedp.Run(browserCtx))
	return browserCtx, ctx, srv.URL
}

// newTestTab opens a tab on the fixture page.
func newTestTab(t *testing.T) (*Tab, context.Context) {
	t.Helper()
	browserCtx, ctx, fixtureURL := newTestBrowser(t)

	tab, err := NewTab(ctx, browserCtx, TabOptions{NavigationTimeout: 20 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close() })

	require.NoError(t, tab.SetViewport(ctx, 1024, 768))
	require.NoError(t, tab.Navigate(ctx, fixtureURL))
	return tab, ctx
}

func TestTabPrimitives(t *testing.T) {
	tab, ctx := newTestTab(t)

	t.Run("QueryCSSAndText", func(t *testing.T) {
		h, ok, err := tab.QueryCSS(ctx, dom.Handle{}, "p.consular-appt")
		require.NoError(t, err)
		require.True(t, ok)
		defer tab.Release(ctx, h)

		text, err := tab.TextContent(ctx, h)
		require.NoError(t, err)
		assert.Contains(t, text, "15 March, 2026")

		_, ok, err = tab.QueryCSS(ctx, dom.Handle{}, "#missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("QueryARIAByLabel", func(t *testing.T) {
		h, ok, err := tab.QueryARIA(ctx, dom.Handle{}, "Email *", "textbox")
		require.NoError(t, err)
		require.True(t, ok)
		id, err := tab.Property(ctx, h, "id")
		require.NoError(t, err)
		assert.Equal(t, "user_email", id)
	})

	t.Run("ShadowRootPiercing", func(t *testing.T) {
		host, ok, err := tab.QueryCSS(ctx, dom.Handle{}, "my-host")
		require.NoError(t, err)
		require.True(t, ok)
		root, err := tab.ShadowRootOrSelf(ctx, host)
		require.NoError(t, err)
		assert.NotEqual(t, host.ObjectID, root.ObjectID)

		inner, ok, err := tab.QueryCSS(ctx, root, "#inner")
		require.NoError(t, err)
		assert.True(t, ok)
		visible, err := tab.IsVisible(ctx, inner)
		require.NoError(t, err)
		assert.True(t, visible)
	})

	t.Run("ViewportAndScroll", func(t *testing.T) {
		far, ok, err := tab.QueryCSS(ctx, dom.Handle{}, "#far")
		require.NoError(t, err)
		require.True(t, ok)

		connected, err := tab.IsConnected(ctx, far)
		require.NoError(t, err)
		assert.True(t, connected)

		in, err := tab.IntersectsViewport(ctx, far)
		require.NoError(t, err)
		assert.False(t, in)

		require.NoError(t, tab.ScrollIntoViewCenter(ctx, far))
		assert.Eventually(t, func() bool {
			in, err := tab.IntersectsViewport(ctx, far)
			return err == nil && in
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("TypeAndSelect", func(t *testing.T) {
		email, ok, err := tab.QueryCSS(ctx, dom.Handle{}, "#user_email")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tab.TypeText(ctx, email, "me@example.com"))
		v, err := tab.Property(ctx, email, "value")
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", v)

		plain, _, err := tab.QueryCSS(ctx, dom.Handle{}, "#plain")
		require.NoError(t, err)
		require.NoError(t, tab.SetValueWithEvents(ctx, plain, "x"))
		v, err = tab.Property(ctx, plain, "value")
		require.NoError(t, err)
		assert.Equal(t, "x", v)

		sel, _, err := tab.QueryCSS(ctx, dom.Handle{}, "#facility")
		require.NoError(t, err)
		require.NoError(t, tab.SelectOption(ctx, sel, "26"))
		assert.Error(t, tab.SelectOption(ctx, sel, "99"))
		require.NoError(t, tab.SelectOptionAt(ctx, sel, 1))
		v, err = tab.Property(ctx, sel, "value")
		require.NoError(t, err)
		assert.Equal(t, "25", v)
	})

	t.Run("PressKeyAndScreenshot", func(t *testing.T) {
		require.NoError(t, tab.PressKey(ctx, "Tab"))
		assert.Error(t, tab.PressKey(ctx, "F13"))
		png, err := tab.Screenshot(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, png)
	})
}

func TestTabCloseIsIdempotent(t *testing.T) {
	tab, ctx := newTestTab(t)
	require.NoError(t, tab.Close())
	require.NoError(t, tab.Close())
	_, _, err := tab.QueryCSS(ctx, dom.Handle{}, "body")
	assert.ErrorIs(t, err, ErrTabClosed)
}

func TestNewTab_OutlivesOpeningContext(t *testing.T) {
	browserCtx, ctx, fixtureURL := newTestBrowser(t)

	openCtx, cancelOpen := context.WithTimeout(ctx, 20*time.Second)
	tab, err := NewTab(openCtx, browserCtx, TabOptions{NavigationTimeout: 20 * time.Second}, zaptest.NewLogger(t))
	cancelOpen()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close() })

	// Every call below needs the target's event loop to still deliver replies.
	opCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	require.NoError(t, tab.SetViewport(opCtx, 800, 600))
	require.NoError(t, tab.Navigate(opCtx, fixtureURL))
	h, ok, err := tab.QueryCSS(opCtx, dom.Handle{}, "#user_email")
	require.NoError(t, err)
	require.True(t, ok)
	tab.Release(opCtx, h)
}

func TestNewTab_CancelledBeforeOpen(t *testing.T) {
	browserCtx, ctx, _ := newTestBrowser(t)

	openCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := NewTab(openCtx, browserCtx, TabOptions{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, context.Canceled)

	// The browser itself must survive a tab that failed to open.
	tab, err := NewTab(ctx, browserCtx, TabOptions{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, tab.Close())
}

func TestTabNavigate_ReturnsAtDOMContentLoaded(t *testing.T) {
	browserCtx, ctx, _ := newTestBrowser(t)

	// The image never finishes, so the load event never fires.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.png" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!doctype html><html><body><p id="ready">ready</p><img src="/slow.png"></body></html>`)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	tab, err := NewTab(ctx, browserCtx, TabOptions{NavigationTimeout: 10 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close() })

	start := time.Now()
	require.NoError(t, tab.Navigate(ctx, srv.URL))
	assert.Less(t, time.Since(start), 5*time.Second)

	_, ok, err := tab.QueryCSS(ctx, dom.Handle{}, "#ready")
	require.NoError(t, err)
	assert.True(t, ok)
}
