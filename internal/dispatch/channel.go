package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Channel delivers a message to a target in one attempt.
type Channel interface {
	Name() string
	Send(ctx context.Context, target string, msg Message) (messageID string, err error)
}

// ErrorKind classifies a failed send.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermanent
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// SendError is returned by channels to tell the dispatcher how to retry.
type SendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // Server hint for KindRateLimited, 0 if none
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send error: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return &SendError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as not retryable.
func Permanent(err error) error {
	return &SendError{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a rate limit with an optional server hint.
func RateLimited(after time.Duration, err error) error {
	return &SendError{Kind: KindRateLimited, RetryAfter: after, Err: err}
}

// classify returns the kind of a channel error. Unclassified errors are
// treated as transient.
func classify(err error) (ErrorKind, time.Duration) {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind, se.RetryAfter
	}
	return KindTransient, 0
}
