package fetcher

import (
	"errors"
	"fmt"

	"github.com/rickgao/derivwatch/internal/api"
)

// FetchError reports why one instrument could not be fetched.
type FetchError struct {
	Instrument string
	Permanent  bool
	StatusCode int // HTTP status, 0 when not applicable
	Err        error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Instrument, kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether a later cycle may succeed.
func (e *FetchError) Transient() bool {
	return !e.Permanent
}

// classify wraps err into a FetchError for instrument.
func classify(instrument string, err error) *FetchError {
	fe := &FetchError{Instrument: instrument, Err: err}

	var apiErr *api.APIError
	var malformed *api.MalformedError
	switch {
	case errors.As(err, &malformed):
		fe.Permanent = true
	case errors.As(err, &apiErr):
		fe.StatusCode = apiErr.StatusCode
		fe.Permanent = !apiErr.IsRetryable()
	}

	return fe
}
