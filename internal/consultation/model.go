package consultation

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// CancelReason distinguishes the terminal cancellations a patient can see.
type CancelReason string

const (
	ReasonNoDoctorsAvailable CancelReason = "no_doctors_available"
	ReasonRequestExpired     CancelReason = "request_expired"
	ReasonAllDeclined        CancelReason = "all_doctors_declined"
	ReasonPatientCancelled   CancelReason = "patient_cancelled"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	HourlyRateCents int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Consultation is the central aggregate. DoctorID stays nil until a doctor
// wins the dispatch offer; StartTime/EndTime/DurationMinutes/TotalCents are
// nil until their lifecycle transition fires.
type Consultation struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      *uuid.UUID
	OriginAddress string
	OriginLat     float64
	OriginLng     float64
	Complaint     string
	Diagnosis     *string
	Treatment     *string

	Status        Status
	CancelReason  *CancelReason
	PaymentStatus PaymentStatus

	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	DurationMinutes *int
	TotalCents      *int64
}

// DispatchOffer is the ephemeral broadcast record for one consultation's
// current round. At most one unresolved offer exists per consultation.
type DispatchOffer struct {
	ConsultationID uuid.UUID
	Candidates     []uuid.UUID
	ExpiresAt      time.Time
	Resolved       bool
	CreatedAt      time.Time
}

// HasCandidate reports whether the doctor is still in the candidate set.
func (o *DispatchOffer) HasCandidate(doctorID uuid.UUID) bool {
	for _, id := range o.Candidates {
		if id == doctorID {
			return true
		}
	}
	return false
}

type Payment struct {
	ID               uuid.UUID
	ConsultationID   uuid.UUID
	AmountCents      int64
	PlatformFeeCents int64
	DoctorPayoutCents int64
	Status           PaymentStatus
	IntentID         *string
	CreatedAt        time.Time
}

type EventLog struct {
	ID             int64
	EventType      string
	ConsultationID *uuid.UUID
	Payload        []byte
	CreatedAt      time.Time
}
