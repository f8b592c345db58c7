// internal/notify/pushover.go
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout = 10 * time.Second
	// maxInFlight bounds concurrent sends. Messages beyond it are dropped
	// with a warning rather than blocking the workflow.
	maxInFlight = 4
)

type message struct {
	Token   string `json:"token"`
	User    string `json:"user"`
	Message string `json:"message"`
}

// Pushover posts messages to a Pushover compatible relay. Sends run in the
// background; failures are logged and otherwise ignored.
type Pushover struct {
	endpoint string
	token    string
	timeout  time.Duration
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	logger   *zap.Logger

	group  errgroup.Group
	mu     sync.Mutex
	closed bool
}

// NewPushover builds a relay client from cfg.
func NewPushover(cfg config.NotifyConfig, logger *zap.Logger) *Pushover {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	proxy, err := network.ParseProxy(cfg.Proxy)
	if err != nil {
		logger.Warn("Ignoring notify proxy.", zap.Error(err))
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = network.NewClient(network.Options{Timeout: timeout, Proxy: proxy, Logger: logger})
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{logger.Sugar()}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}

	p := &Pushover{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		timeout:  timeout,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
	p.group.SetLimit(maxInFlight)
	return p
}

// Notify logs message and, when address is set, sends it in the background.
// The send outlives ctx's cancellation but not the configured timeout.
func (p *Pushover) Notify(ctx context.Context, address, message string) {
	p.logger.Info(message)
	if address == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("Notifier is closed; message dropped.")
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	started := p.group.TryGo(func() error {
		if err := p.send(sendCtx, address, message); err != nil {
			p.logger.Warn("Failed to deliver notification.", zap.Error(err))
		}
		return nil
	})
	if !started {
		p.logger.Warn("Too many notifications in flight; message dropped.")
	}
}

func (p *Pushover) send(ctx context.Context, address, text string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(message{Token: p.token, User: address, Message: text})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay responded with status %d", resp.StatusCode)
	}
	p.logger.Debug("Notification delivered.")
	return nil
}

// Close stops accepting messages and waits for in flight sends, or for ctx.
func (p *Pushover) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.client.HTTPClient.CloseIdleConnections()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending notifications: %w", ctx.Err())
	}
}

// leveledLogger routes retryablehttp's diagnostics through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
