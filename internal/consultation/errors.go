package consultation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is raised by any lifecycle operation attempted
	// from a status its event does not allow. The row is left untouched,
	// so a retry with the correct state is safe.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyAccepted is the expected outcome for every doctor who lost
	// the accept race, not a bug.
	ErrAlreadyAccepted = errors.New("consultation already accepted by another doctor")

	// ErrOfferExpired is returned when an accept arrives after the offer
	// was resolved by timeout or cancellation.
	ErrOfferExpired = errors.New("dispatch offer expired")

	// ErrNoCandidates means the geo index found no available doctor in range.
	ErrNoCandidates = errors.New("no doctors available near the patient")

	ErrNotCandidate         = errors.New("doctor is not a candidate for this offer")
	ErrNotAssignedDoctor    = errors.New("doctor is not assigned to this consultation")
	ErrNotRequestingPatient = errors.New("patient does not own this consultation")
	ErrAlreadyDispatched    = errors.New("consultation already has a dispatch offer")
)

// ValidationError rejects malformed input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
