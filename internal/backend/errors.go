package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
)

// BackendError classifies publishing failures as transient/permanent and
// carries an optional rate-limit reset interval.
type BackendError struct {
	StatusCode int
	Message    string
	Transient  bool
	RetryAfter time.Duration
	Cause      error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "backend error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrInsufficientCredits) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Unclassified errors default to retryable; the attempt cap bounds them.
	return true
}

// IsRateLimited reports whether the backend asked the caller to back off.
// Runs that hit this stop early and resume on the next invocation.
func IsRateLimited(err error) bool {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.StatusCode == 429 || backendErr.RetryAfter > 0
	}
	return false
}

// AspectRatioMessage translates a media rejection into guidance the composer
// can act on, naming the post kind and the accepted ratio band.
func AspectRatioMessage(kind domain.Kind) string {
	return fmt.Sprintf(
		"one or more images in this %s fall outside the accepted aspect ratio range (0.75:1 to 1.91:1); crop or replace them and try again",
		strings.ToLower(kind.String()),
	)
}
