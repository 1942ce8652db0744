package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homedoc/consult-dispatch/internal/consultation"
	redisclient "github.com/homedoc/consult-dispatch/internal/redis"
)

func createConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		c, err := svc.RequestConsultation(r.Context(), patientID, req.OriginAddress, req.OriginLat, req.OriginLng, req.Complaint)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toConsultationResponse(c))
	}
}

func getConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		c, err := svc.GetConsultation(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func listConsultationsHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id query parameter must be a valid UUID")
			return
		}

		limit := queryInt(r, "limit", 0)
		offset := queryInt(r, "offset", 0)

		items, err := svc.ListConsultationsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := ConsultationListResponse{Consultations: make([]ConsultationResponse, 0, len(items))}
		for i := range items {
			resp.Consultations = append(resp.Consultations, toConsultationResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func acceptConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseDoctorBody(w, r)
		if !ok {
			return
		}

		c, err := svc.Accept(r.Context(), id, doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func declineConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseDoctorBody(w, r)
		if !ok {
			return
		}

		if err := svc.Decline(r.Context(), id, doctorID); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func cancelConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		c, err := svc.CancelByPatient(r.Context(), id, patientID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func startConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseDoctorBody(w, r)
		if !ok {
			return
		}

		c, err := svc.Start(r.Context(), id, doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func completeConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CompleteConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		res, err := svc.Complete(r.Context(), id, doctorID, req.Diagnosis, req.Treatment)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := CompletionResponse{
			Consultation: toConsultationResponse(res.Consultation),
			Billing: BillingResponse{
				DurationMinutes:   res.Quote.DurationMinutes,
				TotalCents:        res.Quote.TotalCents,
				PlatformFeeCents:  res.Quote.PlatformFeeCents,
				DoctorPayoutCents: res.Quote.DoctorPayoutCents,
			},
			Warning: res.Warning,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateDoctorLocationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req LocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.PingLocation(r.Context(), doctorID, req.Latitude, req.Longitude); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func updateDoctorAvailabilityHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.SetAvailability(r.Context(), doctorID, req.Available, req.ServiceRadiusKm); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDoctorBody(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req DoctorActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return uuid.Nil, false
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return uuid.Nil, false
	}
	return doctorID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func handleServiceError(w http.ResponseWriter, err error) {
	var verr *consultation.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "invalid_"+verr.Field, verr.Reason)
		return
	}

	switch {
	case errors.Is(err, consultation.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, consultation.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, consultation.ErrConsultationNotFound):
		writeError(w, http.StatusNotFound, "consultation_not_found", err.Error())
	case errors.Is(err, consultation.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, "offer_not_found", err.Error())
	case errors.Is(err, consultation.ErrAlreadyAccepted):
		writeError(w, http.StatusConflict, "consultation_taken", err.Error())
	case errors.Is(err, consultation.ErrOfferExpired):
		writeError(w, http.StatusConflict, "offer_expired", err.Error())
	case errors.Is(err, consultation.ErrNotCandidate):
		writeError(w, http.StatusConflict, "not_a_candidate", err.Error())
	case errors.Is(err, consultation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, consultation.ErrAlreadyDispatched):
		writeError(w, http.StatusConflict, "already_dispatched", err.Error())
	case errors.Is(err, consultation.ErrNotAssignedDoctor):
		writeError(w, http.StatusForbidden, "not_assigned_doctor", err.Error())
	case errors.Is(err, consultation.ErrNotRequestingPatient):
		writeError(w, http.StatusForbidden, "not_requesting_patient", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "dispatch_in_progress", "dispatch is in progress, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
