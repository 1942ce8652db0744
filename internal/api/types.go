package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/homedoc/consult-dispatch/internal/consultation"
)

type CreateConsultationRequest struct {
	PatientID     string  `json:"patient_id"`
	OriginAddress string  `json:"origin_address"`
	OriginLat     float64 `json:"origin_lat"`
	OriginLng     float64 `json:"origin_lng"`
	Complaint     string  `json:"complaint"`
}

type DoctorActionRequest struct {
	DoctorID string `json:"doctor_id"`
}

type CancelConsultationRequest struct {
	PatientID string `json:"patient_id"`
}

type CompleteConsultationRequest struct {
	DoctorID  string `json:"doctor_id"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
}

type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type AvailabilityRequest struct {
	Available       bool     `json:"available"`
	ServiceRadiusKm *float64 `json:"service_radius_km,omitempty"`
}

type ConsultationResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        *uuid.UUID `json:"doctor_id,omitempty"`
	OriginAddress   string     `json:"origin_address"`
	OriginLat       float64    `json:"origin_lat"`
	OriginLng       float64    `json:"origin_lng"`
	Complaint       string     `json:"complaint"`
	Diagnosis       *string    `json:"diagnosis,omitempty"`
	Treatment       *string    `json:"treatment,omitempty"`
	Status          string     `json:"status"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	PaymentStatus   string     `json:"payment_status"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	TotalCents      *int64     `json:"total_cents,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type BillingResponse struct {
	DurationMinutes   int   `json:"duration_minutes"`
	TotalCents        int64 `json:"total_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	DoctorPayoutCents int64 `json:"doctor_payout_cents"`
}

// CompletionResponse carries the billing breakdown alongside the final row.
// Warning is set when the payment collaborator failed; the visit itself is
// still completed.
type CompletionResponse struct {
	Consultation ConsultationResponse `json:"consultation"`
	Billing      BillingResponse      `json:"billing"`
	Warning      string               `json:"warning,omitempty"`
}

type ConsultationListResponse struct {
	Consultations []ConsultationResponse `json:"consultations"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toConsultationResponse(c *consultation.Consultation) ConsultationResponse {
	resp := ConsultationResponse{
		ID:              c.ID,
		PatientID:       c.PatientID,
		DoctorID:        c.DoctorID,
		OriginAddress:   c.OriginAddress,
		OriginLat:       c.OriginLat,
		OriginLng:       c.OriginLng,
		Complaint:       c.Complaint,
		Diagnosis:       c.Diagnosis,
		Treatment:       c.Treatment,
		Status:          string(c.Status),
		PaymentStatus:   string(c.PaymentStatus),
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		DurationMinutes: c.DurationMinutes,
		TotalCents:      c.TotalCents,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.CancelReason != nil {
		reason := string(*c.CancelReason)
		resp.CancelReason = &reason
	}
	return resp
}
