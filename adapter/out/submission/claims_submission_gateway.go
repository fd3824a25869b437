// Package submission wraps the external claim submission API with per-call
// timeouts, retries with exponential backoff and jitter, and a circuit
// breaker shared across all submission workers.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"claims_server/core/domain"
	"claims_server/core/port/out"
	"claims_server/pkg/apperr"
	"claims_server/pkg/httputil"
	"claims_server/pkg/logger"
)

// =============================================================================
// Submission Gateway
// =============================================================================

// Config holds gateway configuration.
type Config struct {
	BaseURL          string
	APIKey           string
	CallTimeout      time.Duration // per-attempt deadline
	MaxRetries       int           // transient retries within one Submit call
	BaseBackoff      time.Duration // doubled per attempt, with jitter
	BreakerThreshold uint32        // consecutive failures that open the breaker
	BreakerOpenTime  time.Duration // open window before half-open probing
}

// Gateway implements out.SubmissionGateway.
//
// The breaker is shared state: one Gateway instance serves every submission
// worker, so a failure streak observed by any worker trips it for all.
type Gateway struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewGateway creates the gateway with its shared circuit breaker.
func NewGateway(cfg Config) *Gateway {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerOpenTime == 0 {
		cfg.BreakerOpenTime = 60 * time.Second
	}

	log := logger.Default().WithField("component", "submission_gateway")

	cbSettings := gobreaker.Settings{
		Name:    "claim-submission-api",
		Timeout: cfg.BreakerOpenTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("circuit breaker state changed")
		},
	}

	return &Gateway{
		cfg:    cfg,
		client: httputil.NewOptimizedClient(httputil.SubmissionClientConfig()),
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		log:    log,
	}
}

// transientError is a retryable failure, optionally carrying the server's
// Retry-After hint.
type transientError struct {
	err        error
	retryAfter time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Submit posts the claim with retries. Validation rejections (4xx except
// 429) return immediately as SUBMISSION_REJECTED and never count against the
// breaker; an open breaker fails fast with CIRCUIT_OPEN.
func (g *Gateway) Submit(ctx context.Context, payload domain.SubmissionPayload, idempotencyKey string) (*out.SubmissionReceipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode submission payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := g.backoff(attempt, lastErr)
			g.log.WithField("attempt", attempt).
				WithDuration(wait).
				Warn("retrying submission")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, cbErr := g.cb.Execute(func() (any, error) {
			return g.attempt(ctx, body, idempotencyKey)
		})
		if cbErr != nil {
			if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
				return nil, apperr.CircuitOpen("claim-submission-api")
			}
			var transient *transientError
			if errors.As(cbErr, &transient) {
				lastErr = cbErr
				continue
			}
			return nil, cbErr
		}

		switch v := result.(type) {
		case *out.SubmissionReceipt:
			return v, nil
		case *apperr.AppError:
			// Validation rejection: terminal, no retry.
			return nil, v
		default:
			return nil, fmt.Errorf("unexpected gateway result %T", result)
		}
	}

	return nil, apperr.RetryExhausted(g.cfg.MaxRetries+1, lastErr)
}

// attempt performs one HTTP call. It returns a *transientError for
// retryable failures (breaker counts those) and a rejection *apperr.AppError
// as a value so client-side errors never trip the breaker.
func (g *Gateway) attempt(ctx context.Context, body []byte, idempotencyKey string) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.cfg.BaseURL+"/claims", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &transientError{err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var receipt out.SubmissionReceipt
		if err := json.Unmarshal(respBody, &receipt); err != nil {
			return nil, &transientError{err: fmt.Errorf("decode submission receipt: %w", err)}
		}
		if receipt.ReferenceID == "" {
			return nil, &transientError{err: fmt.Errorf("submission accepted without reference id")}
		}
		return &receipt, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transientError{
			err:        fmt.Errorf("submission rate limited"),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperr.SubmissionRejected(resp.StatusCode, string(respBody)), nil

	default:
		return nil, &transientError{err: fmt.Errorf("submission upstream status %d", resp.StatusCode)}
	}
}

// backoff returns the wait before the given attempt: exponential with full
// jitter, overridden by a server Retry-After hint when longer.
func (g *Gateway) backoff(attempt int, lastErr error) time.Duration {
	base := g.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
	wait := base/2 + time.Duration(rand.Int63n(int64(base/2)+1))

	var transient *transientError
	if errors.As(lastErr, &transient) && transient.retryAfter > wait {
		wait = transient.retryAfter
	}
	return wait
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Ensure Gateway implements out.SubmissionGateway
var _ out.SubmissionGateway = (*Gateway)(nil)
