package keypool

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperflow/internal/services"
)

var (
	// ErrEmptyPool reports a provider configured without credentials.
	ErrEmptyPool = errors.New("credential pool is empty")
	// ErrMissingField reports a success response lacking an expected field.
	ErrMissingField = errors.New("response missing expected field")
)

const maxBodyExcerpt = 2000

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError drains resp and captures a bounded excerpt of its body.
func NewStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
	retryAfter := time.Duration(0)
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		retryAfter = time.Duration(secs) * time.Second
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: retryAfter,
	}
}

// MissingField builds an ErrMissingField for the named response field.
func MissingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// ExhaustedError is returned when every credential in a pool failed with a
// retryable error.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d credential attempts failed: %v", e.Provider, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is lets callers treat exhaustion as a transient service failure.
func (e *ExhaustedError) Is(target error) bool { return target == services.ErrTransient }
