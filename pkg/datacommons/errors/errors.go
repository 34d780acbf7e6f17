package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var ErrBadRequest = fmt.Errorf("bad request")
var ErrInternal = fmt.Errorf("internal error")
var ErrInvalidQuery = fmt.Errorf("invalid query")
var ErrNotFound = fmt.Errorf("not found")
var ErrPaginationExhausted = fmt.Errorf("pagination exhausted")
var ErrRateLimited = fmt.Errorf("rate limited")
var ErrRetriesExhausted = fmt.Errorf("retries exhausted")
var ErrTransport = fmt.Errorf("transport error")
var ErrUnauthorized = fmt.Errorf("unauthorized")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

// NewInvalidQuery reports malformed caller input. It is surfaced
// immediately and never retried.
func NewInvalidQuery(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidQuery,
	}
}

func NewBadRequestError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadRequest,
	}
}

func NewUnauthorizedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrUnauthorized,
	}
}

// TransportError wraps a network level failure (dial, tls, timeout,
// connection reset) where no response was received at all.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func NewTransportError(op, url string, err error) error {
	return &TransportError{Op: op, URL: url, Err: err}
}

func (t *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", t.Op, t.URL, t.Err.Error())
}

func (t *TransportError) Unwrap() error { return t.Err }

func (t *TransportError) Is(target error) bool { return target == ErrTransport }

// StatusError carries a non-2xx response from the API, including any
// Retry-After hint the server provided.
type StatusError struct {
	Code       int
	Status     string
	Message    string
	RetryAfter time.Duration
}

func (s *StatusError) Error() string {
	if s.Message != "" {
		return fmt.Sprintf("api responded with status %d: %s", s.Code, s.Message)
	}

	return fmt.Sprintf("api responded with status %d", s.Code)
}

func (s *StatusError) Is(target error) bool {
	switch {
	case s.Code == http.StatusTooManyRequests:
		return target == ErrRateLimited
	case s.Code == http.StatusNotFound:
		return target == ErrNotFound
	case s.Code == http.StatusUnauthorized || s.Code == http.StatusForbidden:
		return target == ErrUnauthorized
	case s.Code >= http.StatusInternalServerError:
		return target == ErrInternal
	case s.Code >= http.StatusBadRequest:
		return target == ErrBadRequest
	}

	return false
}

// NewErrorFromAPIResponse maps a non-2xx response to a StatusError. The
// API reports errors in the google.rpc shape {"error": {"code", "message",
// "status"}}; anything else falls back to the raw body text.
func NewErrorFromAPIResponse(code int, header http.Header, body []byte) error {
	report := &struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}{}

	se := &StatusError{Code: code}

	if err := json.Unmarshal(body, report); err == nil && report.Error.Message != "" {
		se.Message = report.Error.Message
		se.Status = report.Error.Status
	} else if len(body) > 0 && len(body) < 512 {
		se.Message = string(body)
	}

	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		se.RetryAfter = parseRetryAfter(retryAfter)
	}

	return se
}

func parseRetryAfter(value string) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

// RetriesExhaustedError wraps the last underlying error once the retry
// budget is spent, so callers can tell "gave up after N tries" apart from
// "server said no".
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func NewRetriesExhausted(attempts int, err error) error {
	return &RetriesExhaustedError{Attempts: attempts, Err: err}
}

func (r *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %s", r.Attempts, r.Err.Error())
}

func (r *RetriesExhaustedError) Unwrap() error { return r.Err }

func (r *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// PaginationExhaustedError signals that a chunk hit the page safety bound
// with more results remaining. Pages gathered before the bound are kept.
type PaginationExhaustedError struct {
	Pages int
}

func NewPaginationExhausted(pages int) error {
	return &PaginationExhaustedError{Pages: pages}
}

func (p *PaginationExhaustedError) Error() string {
	return fmt.Sprintf("pagination stopped after %d pages with more results remaining", p.Pages)
}

func (p *PaginationExhaustedError) Is(target error) bool { return target == ErrPaginationExhausted }

func IsInvalidQuery(err error) bool { return stderrors.Is(err, ErrInvalidQuery) }

func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

func IsRateLimited(err error) bool { return stderrors.Is(err, ErrRateLimited) }

func IsRetriesExhausted(err error) bool { return stderrors.Is(err, ErrRetriesExhausted) }

func IsPaginationExhausted(err error) bool { return stderrors.Is(err, ErrPaginationExhausted) }

// StatusCode extracts the HTTP status code if err carries one.
func StatusCode(err error) (int, bool) {
	se := &StatusError{}
	if stderrors.As(err, &se) {
		return se.Code, true
	}

	return 0, false
}

// RetryAfterHint extracts a server supplied retry-after delay if present.
func RetryAfterHint(err error) (time.Duration, bool) {
	se := &StatusError{}
	if stderrors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}

	return 0, false
}
