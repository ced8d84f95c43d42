package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// maxErrorBody caps how much of an error response is echoed into messages.
const maxErrorBody = 512

// statusError classifies a non-2xx HTTP response.
func statusError(backend, model string, resp *http.Response, body []byte) *amerrors.AmanError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	msg := fmt.Sprintf("%s returned status %d: %s", backend, resp.StatusCode, text)

	var ae *amerrors.AmanError
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ae = amerrors.New(amerrors.ErrCodeCredentialMissing, msg, nil).
			WithSuggestion("Check that the API key reference resolves to a valid key")
	case resp.StatusCode == http.StatusTooManyRequests:
		ae = amerrors.New(amerrors.ErrCodeRateLimited, msg, nil)
		if d := retryAfter(resp.Header.Get("Retry-After")); d > 0 {
			ae.WithDetail("retry_after", d.String())
		}
	case resp.StatusCode == http.StatusNotFound:
		ae = amerrors.New(amerrors.ErrCodeModelUnavailable, msg, nil).
			WithSuggestion("Pull or enable model " + model + " on the provider")
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		ae = amerrors.New(amerrors.ErrCodeNetworkTimeout, msg, nil)
	case resp.StatusCode >= 500:
		ae = amerrors.New(amerrors.ErrCodeNetworkUnavailable, msg, nil)
	default:
		ae = amerrors.New(amerrors.ErrCodeInvalidResponse, msg, nil)
	}
	return ae.WithDetail("provider", backend).
		WithDetail("model", model).
		WithDetail("status", strconv.Itoa(resp.StatusCode))
}

// transportError classifies an error from http.Client.Do or reading a body.
// ctx is the request context. When it is done its error is returned as-is;
// attemptError then decides whether that was the caller or the per-request
// timeout.
func transportError(ctx context.Context, backend string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return timeoutError(backend, err)
	}
	return amerrors.New(amerrors.ErrCodeNetworkUnavailable,
		fmt.Sprintf("%s unreachable: %v", backend, err), err).
		WithDetail("provider", backend).
		WithSuggestion("Check that the endpoint is running and reachable")
}

func timeoutError(backend string, err error) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeNetworkTimeout,
		fmt.Sprintf("%s request timed out", backend), err).
		WithDetail("provider", backend)
}

// attemptError maps the error of one attempt made under a per-request
// deadline derived from parent. If parent is done the caller gave up and
// its error is returned unclassified. A bare deadline error otherwise means
// the request itself ran out of time, a transient provider fault.
func attemptError(parent context.Context, backend string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if _, ok := amerrors.As(err); !ok && stderrors.Is(err, context.DeadlineExceeded) {
		return timeoutError(backend, err)
	}
	return err
}

func invalidResponse(backend, format string, args ...any) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeInvalidResponse,
		backend+": "+fmt.Sprintf(format, args...), nil).
		WithDetail("provider", backend)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
