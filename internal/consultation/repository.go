package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrOfferNotFound        = errors.New("dispatch offer not found")

	// ErrConditionFailed signals that a conditional update matched no row:
	// the row's current state no longer satisfies the precondition.
	ErrConditionFailed = errors.New("conditional update matched no row")
)

// StatusUpdate carries the fields a lifecycle transition sets alongside the
// status column. Nil fields are left untouched.
type StatusUpdate struct {
	CancelReason    *CancelReason
	StartTime       *time.Time
	EndTime         *time.Time
	DurationMinutes *int
	TotalCents      *int64
	Diagnosis       *string
	Treatment       *string
}

// Repository contains all DB interactions needed by the dispatch service.
// Accept and status changes are conditional updates so concurrent callers
// cannot lose writes; see ConditionalAccept.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error)
	GetConsultationByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListConsultationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Consultation, error)

	// GetActiveConsultationForDoctor returns the doctor's accepted or
	// in-progress consultation, if any.
	GetActiveConsultationForDoctor(ctx context.Context, doctorID uuid.UUID) (*Consultation, error)

	// ConditionalAccept atomically assigns the doctor and moves the row to
	// accepted, but only while status is pending and no doctor is set; the
	// offer is resolved in the same transaction. Returns ErrConditionFailed
	// when another caller already won.
	ConditionalAccept(ctx context.Context, id, doctorID uuid.UUID) (*Consultation, error)

	// UpdateStatus performs a conditional status transition, applying the
	// extra fields only when the row is still in the from status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, set StatusUpdate) (*Consultation, error)

	CreateOffer(ctx context.Context, offer *DispatchOffer) error
	GetOffer(ctx context.Context, consultationID uuid.UUID) (*DispatchOffer, error)

	// ResolveOffer flips resolved from false to true. The boolean reports
	// whether this caller performed the flip; false means the offer was
	// already resolved (or never existed) and the caller must treat the
	// operation as a no-op.
	ResolveOffer(ctx context.Context, consultationID uuid.UUID) (bool, error)

	// RemoveCandidate drops a doctor from the unresolved offer's candidate
	// set and returns the updated offer.
	RemoveCandidate(ctx context.Context, consultationID, doctorID uuid.UUID) (*DispatchOffer, error)

	// FindExpiredUnresolved lists offers whose deadline has passed and that
	// are still unresolved; used by the sweep worker.
	FindExpiredUnresolved(ctx context.Context, now time.Time) ([]DispatchOffer, error)

	CreatePayment(ctx context.Context, p *Payment) error
	SetPaymentIntent(ctx context.Context, paymentID uuid.UUID, intentID string) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
