package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// HTTPConfig configures the push gateway transport.
type HTTPConfig struct {
	URL     string        `env:"URL"`
	Secret  string        `env:"SECRET"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Message is the JSON body posted to the gateway.
type Message struct {
	UserID       string               `json:"user_id"`
	Notification notification.Payload `json:"notification"`
	SentAt       time.Time            `json:"sent_at"`
}

// HTTP posts payloads to a push gateway. The gateway is expected to answer
// 2xx on acceptance.
type HTTP struct {
	endpoint string
	secret   string
	timeout  time.Duration
	client   *http.Client
	headers  http.Header
	now      func() time.Time
	logger   *slog.Logger
}

type HTTPOption func(*HTTP)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTP) {
		if c != nil {
			t.client = c
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTP) {
		if key != "" && value != "" {
			t.headers.Set(key, value)
		}
	}
}

func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(t *HTTP) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithHTTPClock(now func() time.Time) HTTPOption {
	return func(t *HTTP) {
		if now != nil {
			t.now = now
		}
	}
}

// NewHTTP validates cfg and returns a gateway transport.
func NewHTTP(cfg HTTPConfig, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https urls are supported", ErrInvalidConfig)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	t := &HTTP{
		endpoint: u.String(),
		secret:   cfg.Secret,
		timeout:  cfg.Timeout,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(http.Header),
		now:     time.Now,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send posts one Message. It does not retry.
func (t *HTTP) Send(ctx context.Context, userID string, p notification.Payload) error {
	body, err := json.Marshal(Message{UserID: userID, Notification: p, SentAt: t.now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrPermanent, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "notifykit/1.0")
	if t.secret != "" {
		sig, err := Sign(t.secret, body, t.now())
		if err != nil {
			return err
		}
		sig.Apply(req.Header)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: %w", ErrTemporary, ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.ReplaceAll(string(snippet), "\n", " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	class := ErrTemporary
	if permanentStatus(resp.StatusCode) {
		class = ErrPermanent
	}
	t.logger.LogAttrs(ctx, slog.LevelDebug, "push gateway rejected notification",
		logger.Component("transport"),
		logger.UserID(userID),
		slog.Int("status", resp.StatusCode),
	)
	return fmt.Errorf("%w: gateway returned status %d: %s", class, resp.StatusCode, msg)
}

// permanentStatus treats 4xx as permanent except the codes that signal a
// transient condition.
func permanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
