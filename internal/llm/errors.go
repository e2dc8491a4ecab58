package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrServiceUnavailable = errors.New("extraction service unavailable")
	ErrTimeout            = errors.New("extraction timed out")
	ErrRateLimited        = errors.New("extraction rate limited")
	ErrRefused            = errors.New("model refused the request")
	ErrEmptyContent       = errors.New("model returned no content")
)

const bodyExcerptLen = 300

// StatusError is returned by Extractor implementations. Kind is one of the
// sentinels above, so errors.Is works against them.
type StatusError struct {
	Kind       error
	StatusCode int
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *StatusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewStatusError classifies a non-2xx response. 429 is rate limiting, 408
// and 504 are timeouts, everything else means the service is unavailable.
func NewStatusError(status int, header http.Header, body []byte) *StatusError {
	kind := ErrServiceUnavailable
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = ErrTimeout
	}
	return &StatusError{
		Kind:       kind,
		StatusCode: status,
		RetryAfter: retryAfter(header),
		Body:       Excerpt(string(body), bodyExcerptLen),
	}
}

// TransportError classifies a failure to get any response at all.
func TransportError(err error) *StatusError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &StatusError{Kind: ErrTimeout, Err: err}
	}
	return &StatusError{Kind: ErrServiceUnavailable, Err: err}
}

// Outcome names err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRefused):
		return "refused"
	case errors.Is(err, ErrEmptyContent):
		return "empty"
	default:
		return "unavailable"
	}
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Excerpt trims s to at most n bytes on a rune boundary.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
