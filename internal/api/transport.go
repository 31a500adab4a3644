package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	applog "expensewatch/internal/log"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

const (
	contentType     = "application/json"
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 8 << 20

	codeNetwork     = "NETWORK_ERROR"
	codeCircuitOpen = "CIRCUIT_OPEN"
	codeBadRequest  = "BAD_REQUEST"
	codeNotFound    = "NOT_FOUND"
	codeRateLimited = "RATE_LIMITED"
	codeServer      = "SERVER_ERROR"
	codeHTTP        = "HTTP_ERROR"
	codeMalformed   = "MALFORMED_RESPONSE"
)

// RetryConfig configures retry behavior. Retries stay few and short: the
// poll loop already tries again on its next tick.
type RetryConfig struct {
	MaxRetries int
	RetryWait  time.Duration
	MaxWait    time.Duration
}

// BreakerConfig configures the circuit breaker guarding the backend.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a breaker that opens after most of at least
// five requests fail and probes again after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type transport struct {
	baseURL string
	client  *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  Logger
	sentry  bool
}

type response struct {
	status int
	body   []byte
}

func newTransport(baseURL string, httpClient *http.Client, retry *RetryConfig, breaker BreakerConfig, logger Logger, sentryEnabled bool) *transport {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = 0
	if retry != nil {
		rc.RetryMax = retry.MaxRetries
		rc.RetryWaitMin = retry.RetryWait
		rc.RetryWaitMax = retry.MaxWait
	}
	// Hand the last response back instead of a generic "giving up" error
	// so status codes survive exhausted retries.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = logger
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "expense-api",
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= breaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  rc,
		breaker: cb,
		logger:  logger,
		sentry:  sentryEnabled,
	}
}

// do sends one request and returns the body of a 2xx answer. Any other
// outcome is an *Error, which matches ErrFetchFailure.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	requestID := uuid.NewString()

	var rawBody interface{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		rawBody = b
	}

	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, rawBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", contentType)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(requestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	result, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, &Error{
				Code:      codeNetwork,
				Message:   fmt.Sprintf("%s %s", method, path),
				RequestID: requestID,
				Err:       errors.Wrap(err, "request failed"),
			}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &Error{
				Code:       codeNetwork,
				Message:    "failed to read response",
				StatusCode: resp.StatusCode,
				RequestID:  requestID,
				Err:        err,
			}
		}
		// Only server-side trouble counts against the breaker.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusError(resp.StatusCode, data, requestID)
		}
		return &response{status: resp.StatusCode, body: data}, nil
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Code: codeCircuitOpen, Message: "backend unavailable", RequestID: requestID, Err: ErrCircuitOpen}
		}
		t.logFailure(ctx, method, path, requestID, duration, err)
		return nil, err
	}

	resp := result.(*response)
	t.logResponse(method, path, requestID, resp.status, duration)
	if resp.status < 200 || resp.status > 299 {
		err := statusError(resp.status, resp.body, requestID)
		t.logFailure(ctx, method, path, requestID, duration, err)
		return nil, err
	}
	return resp.body, nil
}

func statusError(status int, body []byte, requestID string) *Error {
	// FastAPI reports problems as {"detail": "..."}.
	var errResp struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg, _ = rawText(errResp.Detail)
	}

	e := &Error{Message: msg, StatusCode: status, RequestID: requestID}
	switch {
	case status == http.StatusNotFound:
		e.Code, e.Err = codeNotFound, ErrNotFound
	case status == http.StatusTooManyRequests:
		e.Code, e.Err = codeRateLimited, ErrRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Code, e.Err = codeBadRequest, ErrBadRequest
	case status >= 500:
		e.Code, e.Err = codeServer, ErrServerError
		base := fmt.Sprintf("server error: %d", status)
		if msg != "" {
			base = fmt.Sprintf("%s: %s", base, msg)
		}
		e.Message = base
	default:
		e.Code = codeHTTP
		if e.Message == "" {
			e.Message = fmt.Sprintf("HTTP error: %d", status)
		}
	}
	return e
}

func malformed(err error) *Error {
	return &Error{Code: codeMalformed, Message: "unexpected response body", Err: err}
}

func (t *transport) logResponse(method, path, requestID string, status int, duration time.Duration) {
	if t.logger == nil {
		return
	}
	fields := applog.NewFields().
		WithRequest(method, path).
		WithResponse(status, duration.Milliseconds()).
		WithRequestID(requestID)
	t.logger.Debug("Backend response", fields.ToSlice()...)
}

func (t *transport) logFailure(ctx context.Context, method, path, requestID string, duration time.Duration, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if t.logger != nil {
		fields := applog.NewFields().
			WithRequest(method, path).
			WithRequestID(requestID).
			WithError(err)
		fields[applog.FieldDuration] = duration.Milliseconds()
		t.logger.Debug("Backend request failed", fields.ToSlice()...)
	}
	if !t.sentry {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("http.method", method)
		scope.SetTag("http.path", path)
		scope.SetTag("request_id", requestID)
		scope.SetContext("request", map[string]interface{}{
			"duration": duration.String(),
		})
		hub.CaptureException(err)
	})
}
