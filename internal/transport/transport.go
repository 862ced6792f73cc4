// Package transport executes outbound HTTP calls with a bounded retry budget.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// DefaultAttempts is the total number of tries per logical call.
const DefaultAttempts = 3

// Limiter throttles calls per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls the retry budget and per-call session settings.
type Config struct {
	Attempts int
	// Timeout bounds connection setup and the wait for response headers.
	// Reading the body is not bounded so large downloads can stream.
	Timeout   time.Duration
	UserAgent string
}

// Client implements collector.Transport.
type Client struct {
	cfg     Config
	limiter Limiter
	metrics collector.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// StatusError reports a non-2xx response on one attempt.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// New constructs a Client. limiter may be nil.
func New(cfg Config, limiter Limiter, metrics collector.Metrics, logger *zap.Logger) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if metrics == nil {
		metrics = collector.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		limiter: limiter,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/AparnaKarve/aiops-data-collector/internal/transport"),
		logger:  logger,
	}
}

// Execute performs method against rawURL. Non-2xx responses and connection
// failures are retried immediately until the budget is spent; anything else
// fails at once. A non-nil body is sent as JSON.
func (c *Client) Execute(
	ctx context.Context,
	method, rawURL string,
	headers collector.Headers,
	body any,
) (*collector.Response, error) {
	method = strings.ToUpper(method)
	ctx, span := c.tracer.Start(ctx, "transport.Execute", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", rawURL),
	))
	defer span.End()

	c.metrics.RequestAttempted(method)

	payload, err := encodeBody(body)
	if err != nil {
		return nil, c.reject(span, method, err)
	}

	sess := newSession(c.cfg)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				sess.close()
				return nil, c.reject(span, method, err)
			}
		}
		req, err := c.newRequest(ctx, method, rawURL, headers, payload)
		if err != nil {
			sess.close()
			return nil, c.reject(span, method, err)
		}
		resp, err := sess.client.Do(req)
		if err != nil {
			if ctx.Err() != nil || !isConnectionError(err) {
				sess.close()
				return nil, c.reject(span, method, fmt.Errorf("%s %s: %w", method, rawURL, err))
			}
			lastErr = err
			c.logger.Warn("request failed, retrying",
				zap.String("method", method),
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			drain(resp.Body)
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			c.logger.Warn("request failed, retrying",
				zap.String("method", method),
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}
		c.metrics.RequestSucceeded(method)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode), attribute.Int("attempts", attempt))
		return &collector.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       &sessionBody{ReadCloser: resp.Body, sess: sess},
		}, nil
	}
	sess.close()
	c.metrics.RequestFailed(method)
	err = fmt.Errorf("%s %s: %w after %d attempts: %w",
		method, rawURL, collector.ErrRetryBudgetExhausted, c.cfg.Attempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "retry budget exhausted")
	return nil, err
}

func (c *Client) reject(span trace.Span, method string, err error) error {
	c.metrics.RequestFailed(method)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Client) newRequest(
	ctx context.Context,
	method, rawURL string,
	headers collector.Headers,
	payload []byte,
) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		return data, nil
	}
}

// isConnectionError separates network level failures, which are retried,
// from malformed calls such as an unsupported scheme.
func isConnectionError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
