package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/metrics"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	initialDelay = 100 * time.Millisecond
	maxDelay     = 2 * time.Second
)

// ErrStatus is returned for non-retryable HTTP statuses.
type ErrStatus struct {
	Code int
	Body string
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client performs JSON GETs against an external collaborator with a
// per-attempt timeout and a bounded retry budget.
type Client struct {
	Service string
	HTTP    *http.Client
	Timeout time.Duration
	Retries int
	Logger  log.Logger
}

func NewClient(service string, timeout time.Duration, retries int, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		Service: service,
		HTTP:    &http.Client{},
		Timeout: timeout,
		Retries: retries,
		Logger:  logger,
	}
}

// GetJSON decodes the response body into out. Exhausted retries map to
// CollaboratorTimeout when the last attempt timed out and to
// CollaboratorUnavailable otherwise.
func (c *Client) GetJSON(ctx context.Context, op, url string, out any) error {
	timer := time.Now()
	defer func() {
		metrics.CollaboratorRequestDuration.WithLabelValues(c.Service, op).Observe(time.Since(timer).Seconds())
	}()

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			metrics.CollaboratorRequestsTotal.WithLabelValues(c.Service, op, metrics.ResultRetry).Inc()
			level.Debug(c.Logger).Log("msg", "retrying collaborator call", "service", c.Service, "op", op, "attempt", attempt)
			select {
			case <-ctx.Done():
				return c.classify(ctx.Err())
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
		}

		err := c.attempt(ctx, url, out)
		if err == nil {
			metrics.CollaboratorRequestsTotal.WithLabelValues(c.Service, op, metrics.ResultSuccess).Inc()
			return nil
		}
		var status *ErrStatus
		if errors.As(err, &status) && status.Code < http.StatusInternalServerError && status.Code != http.StatusTooManyRequests {
			metrics.CollaboratorRequestsTotal.WithLabelValues(c.Service, op, metrics.ResultFailure).Inc()
			return apperr.Wrap(apperr.CollaboratorUnavailable, err, c.Service+" rejected the request")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	metrics.CollaboratorRequestsTotal.WithLabelValues(c.Service, op, metrics.ResultFailure).Inc()
	level.Warn(c.Logger).Log("msg", "collaborator call failed", "service", c.Service, "op", op, "err", lastErr)
	return c.classify(lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ErrStatus{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ErrStatus{Code: http.StatusBadGateway, Body: "decode: " + err.Error()}
	}
	return nil
}

func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CollaboratorTimeout, err, c.Service+" did not answer in time")
	}
	return apperr.Wrap(apperr.CollaboratorUnavailable, err, c.Service+" is unavailable")
}
