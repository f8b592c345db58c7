// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/browser/session"
	"github.com/xkilldash9x/visa-resched/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// ErrManagerClosed is returned by NewTab after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

// Manager owns the Chrome process and hands out tabs. The process is started
// lazily by the first NewTab call and reused by every run after it.
type Manager struct {
	cfg               config.BrowserConfig
	navigationTimeout time.Duration
	logger            *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	initOnce sync.Once
	initErr  error

	mu     sync.Mutex
	tabs   map[string]*session.Tab
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a browser manager. Nothing is launched until a tab is requested.
func NewManager(cfg config.BrowserConfig, navigationTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:               cfg,
		navigationTimeout: navigationTimeout,
		logger:            logger.Named("browser_manager"),
		tabs:              make(map[string]*session.Tab),
	}
	m.logger.Debug("Browser manager created (launch deferred).")
	return m
}

// initialize launches Chrome. The allocator and browser contexts are detached
// from ctx so that a single run's cancellation does not kill the process.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless), zap.String("exec_path", m.cfg.ExecPath))

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(m.cfg)...)
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Warnf),
		)

		// The first Run starts the process and ties its lifetime to the
		// context it runs on, so it runs on browserCtx and ctx only bounds the wait.
		if err := session.StartTarget(ctx, m.browserCtx); err != nil {
			m.browserCancel()
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// NewTab opens a fresh tab. The manager keeps track of it until it is closed.
func (m *Manager) NewTab(ctx context.Context) (*session.Tab, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tab, err := session.NewTab(ctx, m.browserCtx, session.TabOptions{NavigationTimeout: m.navigationTimeout}, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = tab.Close()
		return nil, ErrManagerClosed
	}
	m.tabs[tab.ID()] = tab
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		<-tab.Done()
		m.mu.Lock()
		delete(m.tabs, tab.ID())
		m.mu.Unlock()
		m.wg.Done()
	}()
	return tab, nil
}

// Shutdown closes every open tab and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*session.Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		open = append(open, t)
	}
	m.mu.Unlock()

	if m.browserCancel == nil {
		m.logger.Debug("Browser was never launched; nothing to shut down.")
		return nil
	}

	for _, t := range open {
		go func(t *session.Tab) {
			if err := t.Close(); err != nil {
				m.logger.Warn("Error closing tab during shutdown.", zap.String("tab_id", t.ID()), zap.Error(err))
			}
		}(t)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for tabs to close. Forcing browser shutdown.", zap.Error(ctx.Err()))
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Cancel(m.browserCtx) }()

	var shutdownErr error
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	case <-cleanupCtx.Done():
		shutdownErr = fmt.Errorf("failed to close browser: %w", cleanupCtx.Err())
	}
	m.browserCancel()
	m.allocCancel()

	m.logger.Info("Browser shut down.", zap.Error(shutdownErr))
	return shutdownErr
}

