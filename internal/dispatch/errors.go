package dispatch

import (
	"fmt"

	"github.com/google/uuid"
)

// DeliveryError reports that an event was not delivered to a destination.
// Exactly one of Transient, Permanent or RateLimited is set.
type DeliveryError struct {
	Destination string
	EventID     uuid.UUID
	Attempts    int

	Transient   bool
	Permanent   bool
	RateLimited bool

	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s (%s after %d attempts): %v",
		e.EventID, e.Destination, e.Kind(), e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Kind returns the failure class as a label.
func (e *DeliveryError) Kind() string {
	switch {
	case e.Permanent:
		return KindPermanent.String()
	case e.RateLimited:
		return KindRateLimited.String()
	default:
		return KindTransient.String()
	}
}

func newDeliveryError(dest string, id uuid.UUID, attempts int, kind ErrorKind, err error) *DeliveryError {
	de := &DeliveryError{Destination: dest, EventID: id, Attempts: attempts, Err: err}
	switch kind {
	case KindPermanent:
		de.Permanent = true
	case KindRateLimited:
		de.RateLimited = true
	default:
		de.Transient = true
	}
	return de
}
