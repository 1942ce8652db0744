package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homedoc/consult-dispatch/internal/config"
	"github.com/homedoc/consult-dispatch/internal/geo"
	"github.com/homedoc/consult-dispatch/internal/metrics"
	"github.com/homedoc/consult-dispatch/internal/notify"
	"github.com/homedoc/consult-dispatch/internal/payments"
	"github.com/homedoc/consult-dispatch/internal/presence"
	redisclient "github.com/homedoc/consult-dispatch/internal/redis"
)

const (
	EventConsultationCreated   = "CONSULTATION_CREATED"
	EventDispatchBroadcast     = "DISPATCH_BROADCAST"
	EventOfferAccepted         = "OFFER_ACCEPTED"
	EventOfferDeclined         = "OFFER_DECLINED"
	EventOfferExpired          = "OFFER_EXPIRED"
	EventConsultationStarted   = "CONSULTATION_STARTED"
	EventConsultationCompleted = "CONSULTATION_COMPLETED"
	EventConsultationCancelled = "CONSULTATION_CANCELLED"
)

// expireGrace bounds the background context used when a timer fires.
const expireGrace = 15 * time.Second

// CompletionResult is what a finished visit returns to the doctor client.
// Warning is set when the payment collaborator failed; the completion itself
// is never rolled back for a billing failure.
type CompletionResult struct {
	Consultation *Consultation
	Quote        BillingQuote
	Warning      string
}

// Service is the dispatch coordinator. It owns broadcast, the accept race,
// expiry, the lifecycle transitions, and the billing trigger. All
// correctness-critical mutations go through conditional updates in the
// repository; notifications are advisory and sent only after commits.
type Service struct {
	repo     Repository
	presence presence.Store
	notifier notify.Notifier
	payments payments.Gateway
	locker   redisclient.Locker
	timers   *timerRegistry
	cfg      config.Config
	log      *zap.Logger
	metrics  *metrics.Collector
}

func NewService(
	repo Repository,
	presenceStore presence.Store,
	notifier notify.Notifier,
	gateway payments.Gateway,
	locker redisclient.Locker,
	cfg config.Config,
	log *zap.Logger,
	collector *metrics.Collector,
) *Service {
	return &Service{
		repo:     repo,
		presence: presenceStore,
		notifier: notifier,
		payments: gateway,
		locker:   locker,
		timers:   newTimerRegistry(),
		cfg:      cfg,
		log:      log,
		metrics:  collector,
	}
}

// Close stops the in-process expiry timers. Unresolved offers are swept by
// the dispatch worker after their deadline.
func (s *Service) Close() {
	s.timers.stopAll()
}

// RequestConsultation validates and persists a new pending consultation, then
// broadcasts it to nearby available doctors. When no candidate is in range
// the consultation comes back already cancelled with reason
// no_doctors_available; the caller reads the outcome off the returned row.
func (s *Service) RequestConsultation(ctx context.Context, patientID uuid.UUID, originAddress string, lat, lng float64, complaint string) (*Consultation, error) {
	if strings.TrimSpace(complaint) == "" {
		return nil, invalidField("complaint", "must not be empty")
	}
	if strings.TrimSpace(originAddress) == "" {
		return nil, invalidField("origin_address", "must not be empty")
	}
	if lat < -90 || lat > 90 {
		return nil, invalidField("origin_latitude", "must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return nil, invalidField("origin_longitude", "must be between -180 and 180")
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	created, err := s.repo.CreateConsultation(ctx, &Consultation{
		PatientID:     patientID,
		OriginAddress: strings.TrimSpace(originAddress),
		OriginLat:     lat,
		OriginLng:     lng,
		Complaint:     strings.TrimSpace(complaint),
	})
	if err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	s.logEvent(ctx, created.ID, EventConsultationCreated, map[string]any{
		"patient_id": patientID.String(),
	})

	dispatched, err := s.Dispatch(ctx, created)
	if err != nil {
		if errors.Is(err, ErrNoCandidates) {
			// Already cancelled and the patient notified inside Dispatch.
			return s.repo.GetConsultationByID(ctx, created.ID)
		}
		return nil, err
	}

	s.log.Info("consultation dispatched",
		zap.String("consultation_id", created.ID.String()),
		zap.Int("candidates", len(dispatched.Candidates)),
		zap.Time("expires_at", dispatched.ExpiresAt))

	return created, nil
}

// Dispatch broadcasts one offer round for a pending consultation. The
// per-consultation lock plus the single offer row guarantee at most one
// unresolved offer per consultation.
func (s *Service) Dispatch(ctx context.Context, c *Consultation) (*DispatchOffer, error) {
	var offer *DispatchOffer

	err := s.locker.WithDispatchLock(ctx, c.ID, func(lockCtx context.Context) error {
		if _, err := s.repo.GetOffer(lockCtx, c.ID); err == nil {
			return ErrAlreadyDispatched
		} else if !errors.Is(err, ErrOfferNotFound) {
			return fmt.Errorf("check existing offer: %w", err)
		}

		snapshot, err := s.presence.Snapshot(lockCtx, s.cfg.PresenceMaxAge)
		if err != nil {
			return fmt.Errorf("load presence snapshot: %w", err)
		}

		origin := geo.Point{Lat: c.OriginLat, Lng: c.OriginLng}
		candidates := geo.FindCandidates(origin, s.cfg.SearchRadiusKm, snapshot)
		if len(candidates) == 0 {
			return s.cancelUndispatched(lockCtx, c)
		}

		ids := make([]uuid.UUID, len(candidates))
		for i, cand := range candidates {
			ids[i] = cand.DoctorID
		}

		offer = &DispatchOffer{
			ConsultationID: c.ID,
			Candidates:     ids,
			ExpiresAt:      time.Now().Add(s.cfg.OfferTTL).UTC(),
		}
		if err := s.repo.CreateOffer(lockCtx, offer); err != nil {
			return err
		}

		s.logEvent(lockCtx, c.ID, EventDispatchBroadcast, map[string]any{
			"candidates": len(ids),
			"expires_at": offer.ExpiresAt,
		})

		patient, err := s.repo.GetPatientByID(lockCtx, c.PatientID)
		if err != nil {
			return fmt.Errorf("load patient for broadcast: %w", err)
		}

		// Per-doctor payload so every candidate sees their own distance.
		for _, cand := range candidates {
			payload := map[string]any{
				"consultation_id": c.ID.String(),
				"patient_name":    patient.Name,
				"origin_address":  c.OriginAddress,
				"complaint":       c.Complaint,
				"distance_km":     cand.DistanceKm,
				"expires_at":      offer.ExpiresAt,
			}
			if err := s.notifier.NotifyDoctor(lockCtx, cand.DoctorID, notify.EventConsultationNew, payload); err != nil {
				s.notifyDropped("consultation:new", err)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAlreadyDispatched
		}
		return nil, err
	}

	s.timers.schedule(c.ID, time.Until(offer.ExpiresAt), func() {
		fireCtx, cancel := context.WithTimeout(context.Background(), expireGrace)
		defer cancel()
		s.expireOffer(fireCtx, offer.ConsultationID, ReasonRequestExpired)
	})

	if s.metrics != nil {
		s.metrics.DispatchBroadcastsTotal.Inc()
		s.metrics.CandidatesPerBroadcast.Observe(float64(len(offer.Candidates)))
	}

	return offer, nil
}

// cancelUndispatched handles the empty-candidate outcome inside the dispatch
// lock: immediate cancellation, distinct reason, patient notified.
func (s *Service) cancelUndispatched(ctx context.Context, c *Consultation) error {
	reason := ReasonNoDoctorsAvailable
	if _, err := s.repo.UpdateStatus(ctx, c.ID, StatusPending, StatusCancelled, StatusUpdate{CancelReason: &reason}); err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return fmt.Errorf("cancel undispatched consultation: %w", err)
		}
	}

	s.logEvent(ctx, c.ID, EventConsultationCancelled, map[string]any{"reason": string(reason)})
	s.countTerminal(StatusCancelled)

	if err := s.notifier.NotifyPatient(ctx, c.PatientID, notify.EventConsultationCancelled, map[string]any{
		"consultation_id": c.ID.String(),
		"reason":          string(reason),
	}); err != nil {
		s.notifyDropped("consultation:cancelled", err)
	}

	return ErrNoCandidates
}

// Accept resolves the accept race. Exactly one doctor's conditional update
// succeeds; everyone else gets ErrAlreadyAccepted (or ErrOfferExpired when
// the timer won instead).
func (s *Service) Accept(ctx context.Context, consultationID, doctorID uuid.UUID) (*Consultation, error) {
	offer, err := s.repo.GetOffer(ctx, consultationID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			// No offer was ever broadcast for this id.
			if _, getErr := s.repo.GetConsultationByID(ctx, consultationID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("load offer: %w", err)
	}

	if !offer.Resolved && !offer.HasCandidate(doctorID) {
		return nil, ErrNotCandidate
	}

	accepted, err := s.repo.ConditionalAccept(ctx, consultationID, doctorID)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, s.classifyLostAccept(ctx, consultationID)
		}
		return nil, fmt.Errorf("accept consultation: %w", err)
	}

	s.timers.cancel(consultationID)
	if s.metrics != nil {
		s.metrics.AcceptWinsTotal.Inc()
	}

	s.logEvent(ctx, consultationID, EventOfferAccepted, map[string]any{
		"doctor_id": doctorID.String(),
	})

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		// The row is committed; a missing profile only degrades the payload.
		s.log.Warn("accepted doctor profile missing", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		doctor = &Doctor{ID: doctorID}
	}

	acceptPayload := map[string]any{
		"consultation_id": consultationID.String(),
		"doctor_id":       doctorID.String(),
		"doctor_name":     doctor.Name,
	}
	if rec, err := s.presence.Get(ctx, doctorID); err == nil {
		acceptPayload["distance_km"] = geo.Distance(
			geo.Point{Lat: accepted.OriginLat, Lng: accepted.OriginLng},
			geo.Point{Lat: rec.Latitude, Lng: rec.Longitude},
		)
	}
	if err := s.notifier.NotifyPatient(ctx, accepted.PatientID, notify.EventConsultationAccepted, acceptPayload); err != nil {
		s.notifyDropped("consultation:accepted", err)
	}

	// Withdrawn goes out only now, after the accept is durably committed, so
	// no candidate can observe withdrawn before new.
	s.withdrawFrom(ctx, offer.Candidates, doctorID, consultationID)

	return accepted, nil
}

func (s *Service) classifyLostAccept(ctx context.Context, consultationID uuid.UUID) error {
	if s.metrics != nil {
		s.metrics.AcceptConflictsTotal.Inc()
	}

	current, err := s.repo.GetConsultationByID(ctx, consultationID)
	if err != nil {
		return err
	}

	switch current.Status {
	case StatusCancelled:
		return ErrOfferExpired
	case StatusPending:
		// CAS failed yet the row looks pending: the winner has not committed
		// from this connection's viewpoint. The caller retries and then gets
		// the definitive answer.
		return ErrAlreadyAccepted
	default:
		return ErrAlreadyAccepted
	}
}

// Decline removes a doctor from the unresolved offer. When the last
// candidate declines, the offer fails fast instead of waiting out the clock.
func (s *Service) Decline(ctx context.Context, consultationID, doctorID uuid.UUID) error {
	offer, err := s.repo.RemoveCandidate(ctx, consultationID, doctorID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			// Already resolved; a late decline is a no-op.
			return nil
		}
		return fmt.Errorf("decline offer: %w", err)
	}

	s.logEvent(ctx, consultationID, EventOfferDeclined, map[string]any{
		"doctor_id": doctorID.String(),
		"remaining": len(offer.Candidates),
	})

	if len(offer.Candidates) == 0 {
		s.expireOffer(ctx, consultationID, ReasonAllDeclined)
	}

	return nil
}

// CancelByPatient cancels a pending or accepted consultation. While pending
// it resolves the outstanding offer exactly like a timeout fire.
func (s *Service) CancelByPatient(ctx context.Context, consultationID, patientID uuid.UUID) (*Consultation, error) {
	current, err := s.repo.GetConsultationByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if current.PatientID != patientID {
		return nil, ErrNotRequestingPatient
	}
	if !ValidTransition(EventPatientCancel, current.Status) {
		return nil, ErrInvalidTransition
	}

	var withdrawn []uuid.UUID
	if current.Status == StatusPending {
		won, err := s.repo.ResolveOffer(ctx, consultationID)
		if err != nil {
			return nil, err
		}
		if won {
			if offer, err := s.repo.GetOffer(ctx, consultationID); err == nil {
				withdrawn = offer.Candidates
			}
		}
	}

	reason := ReasonPatientCancelled
	cancelled, err := s.repo.UpdateStatus(ctx, consultationID, current.Status, StatusCancelled, StatusUpdate{CancelReason: &reason})
	if err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, fmt.Errorf("cancel consultation: %w", err)
		}
		// Lost a race with an accept between our read and our update; the
		// consultation is accepted now and cancel is still legal from there.
		refreshed, getErr := s.repo.GetConsultationByID(ctx, consultationID)
		if getErr != nil {
			return nil, getErr
		}
		if !ValidTransition(EventPatientCancel, refreshed.Status) {
			return nil, ErrInvalidTransition
		}
		cancelled, err = s.repo.UpdateStatus(ctx, consultationID, refreshed.Status, StatusCancelled, StatusUpdate{CancelReason: &reason})
		if err != nil {
			if errors.Is(err, ErrConditionFailed) {
				return nil, ErrInvalidTransition
			}
			return nil, fmt.Errorf("cancel consultation: %w", err)
		}
	}

	s.timers.cancel(consultationID)
	s.countTerminal(StatusCancelled)

	s.logEvent(ctx, consultationID, EventConsultationCancelled, map[string]any{
		"reason": string(reason),
	})

	s.withdrawFrom(ctx, withdrawn, uuid.Nil, consultationID)

	if cancelled.DoctorID != nil {
		if err := s.notifier.NotifyDoctor(ctx, *cancelled.DoctorID, notify.EventConsultationCancelled, map[string]any{
			"consultation_id": consultationID.String(),
			"reason":          string(reason),
		}); err != nil {
			s.notifyDropped("consultation:cancelled", err)
		}
	}

	if err := s.notifier.NotifyPatient(ctx, patientID, notify.EventConsultationCancelled, map[string]any{
		"consultation_id": consultationID.String(),
		"reason":          string(reason),
	}); err != nil {
		s.notifyDropped("consultation:cancelled", err)
	}

	return cancelled, nil
}

// Start moves an accepted consultation to in_progress when the assigned
// doctor arrives.
func (s *Service) Start(ctx context.Context, consultationID, doctorID uuid.UUID) (*Consultation, error) {
	current, err := s.repo.GetConsultationByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if current.DoctorID == nil || *current.DoctorID != doctorID {
		return nil, ErrNotAssignedDoctor
	}
	if !ValidTransition(EventStart, current.Status) {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	started, err := s.repo.UpdateStatus(ctx, consultationID, StatusAccepted, StatusInProgress, StatusUpdate{StartTime: &now})
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("start consultation: %w", err)
	}

	s.logEvent(ctx, consultationID, EventConsultationStarted, map[string]any{
		"doctor_id": doctorID.String(),
	})

	if err := s.notifier.NotifyPatient(ctx, started.PatientID, notify.EventConsultationStarted, map[string]any{
		"consultation_id": consultationID.String(),
		"start_time":      now,
	}); err != nil {
		s.notifyDropped("consultation:started", err)
	}

	return started, nil
}

// Complete finishes an in-progress visit: sets end time and billed duration,
// prices the visit, records the payment, and asks the collaborator for an
// intent. A collaborator failure is reported as a warning, never a rollback.
func (s *Service) Complete(ctx context.Context, consultationID, doctorID uuid.UUID, diagnosis, treatment string) (*CompletionResult, error) {
	if strings.TrimSpace(diagnosis) == "" {
		return nil, invalidField("diagnosis", "must not be empty")
	}
	if strings.TrimSpace(treatment) == "" {
		return nil, invalidField("treatment", "must not be empty")
	}

	current, err := s.repo.GetConsultationByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if current.DoctorID == nil || *current.DoctorID != doctorID {
		return nil, ErrNotAssignedDoctor
	}
	if !ValidTransition(EventComplete, current.Status) {
		return nil, ErrInvalidTransition
	}
	if current.StartTime == nil {
		return nil, fmt.Errorf("in-progress consultation %s has no start time", consultationID)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor rate: %w", err)
	}

	end := time.Now().UTC()
	minutes := BilledMinutes(*current.StartTime, end)
	quote := Quote(doctor.HourlyRateCents, minutes, s.cfg.PlatformFeePercent)

	diag := strings.TrimSpace(diagnosis)
	treat := strings.TrimSpace(treatment)
	completed, err := s.repo.UpdateStatus(ctx, consultationID, StatusInProgress, StatusCompleted, StatusUpdate{
		EndTime:         &end,
		DurationMinutes: &quote.DurationMinutes,
		TotalCents:      &quote.TotalCents,
		Diagnosis:       &diag,
		Treatment:       &treat,
	})
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete consultation: %w", err)
	}

	s.countTerminal(StatusCompleted)
	s.logEvent(ctx, consultationID, EventConsultationCompleted, map[string]any{
		"doctor_id":        doctorID.String(),
		"duration_minutes": quote.DurationMinutes,
		"total_cents":      quote.TotalCents,
	})

	warning := s.emitPayment(ctx, completed, quote)

	if err := s.notifier.NotifyPatient(ctx, completed.PatientID, notify.EventConsultationCompleted, map[string]any{
		"consultation_id":  consultationID.String(),
		"duration_minutes": quote.DurationMinutes,
		"total_cents":      quote.TotalCents,
	}); err != nil {
		s.notifyDropped("consultation:completed", err)
	}

	return &CompletionResult{Consultation: completed, Quote: quote, Warning: warning}, nil
}

// emitPayment records the payment split and requests an intent from the
// collaborator. Returns a human-readable warning on failure.
func (s *Service) emitPayment(ctx context.Context, c *Consultation, quote BillingQuote) string {
	payment := &Payment{
		ID:                uuid.New(),
		ConsultationID:    c.ID,
		AmountCents:       quote.TotalCents,
		PlatformFeeCents:  quote.PlatformFeeCents,
		DoctorPayoutCents: quote.DoctorPayoutCents,
		Status:            PaymentPending,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		s.log.Error("payment record not persisted", zap.String("consultation_id", c.ID.String()), zap.Error(err))
		if s.metrics != nil {
			s.metrics.PaymentIntentFailures.Inc()
		}
		return "payment could not be recorded; flagged for manual follow-up"
	}

	intent, err := s.payments.CreateIntent(ctx, quote.TotalCents, map[string]string{
		"consultation_id": c.ID.String(),
	})
	if err != nil {
		s.log.Warn("payment intent creation failed",
			zap.String("consultation_id", c.ID.String()),
			zap.Int64("amount_cents", quote.TotalCents),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.PaymentIntentFailures.Inc()
		}
		return "payment intent creation failed; flagged for manual follow-up"
	}

	if err := s.repo.SetPaymentIntent(ctx, payment.ID, intent.ID); err != nil {
		s.log.Warn("payment intent id not persisted", zap.String("payment_id", payment.ID.String()), zap.Error(err))
	}

	return ""
}

// expireOffer resolves an offer by timeout or full decline. The ResolveOffer
// CAS makes it idempotent: only the caller that flips resolved performs the
// cancellation and notifications; every later fire is a silent no-op.
func (s *Service) expireOffer(ctx context.Context, consultationID uuid.UUID, reason CancelReason) {
	won, err := s.repo.ResolveOffer(ctx, consultationID)
	if err != nil {
		s.log.Error("offer resolution failed", zap.String("consultation_id", consultationID.String()), zap.Error(err))
		return
	}
	if !won {
		return
	}

	s.timers.cancel(consultationID)

	cancelled, err := s.repo.UpdateStatus(ctx, consultationID, StatusPending, StatusCancelled, StatusUpdate{CancelReason: &reason})
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			// An accept committed between our CAS and this update; the
			// consultation is assigned and there is nothing to cancel.
			return
		}
		s.log.Error("expiry cancellation failed", zap.String("consultation_id", consultationID.String()), zap.Error(err))
		return
	}

	if s.metrics != nil {
		s.metrics.OffersExpiredTotal.Inc()
	}
	s.countTerminal(StatusCancelled)

	s.logEvent(ctx, consultationID, EventOfferExpired, map[string]any{
		"reason": string(reason),
	})

	if offer, err := s.repo.GetOffer(ctx, consultationID); err == nil {
		s.withdrawFrom(ctx, offer.Candidates, uuid.Nil, consultationID)
	}

	if err := s.notifier.NotifyPatient(ctx, cancelled.PatientID, notify.EventConsultationCancelled, map[string]any{
		"consultation_id": consultationID.String(),
		"reason":          string(reason),
	}); err != nil {
		s.notifyDropped("consultation:cancelled", err)
	}
}

// ExpireOverdueOffers is the sweep entrypoint for the dispatch worker. It
// covers offers whose in-process timer was lost to a restart.
func (s *Service) ExpireOverdueOffers(ctx context.Context) error {
	overdue, err := s.repo.FindExpiredUnresolved(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("find expired offers: %w", err)
	}

	for _, offer := range overdue {
		s.expireOffer(ctx, offer.ConsultationID, ReasonRequestExpired)
	}

	return nil
}

// PingLocation refreshes a doctor's presence and relays the position to the
// patient of their active visit, if any. Pings are last-write-wins; the
// sender rate-limits, not this service.
func (s *Service) PingLocation(ctx context.Context, doctorID uuid.UUID, lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return invalidField("latitude", "must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return invalidField("longitude", "must be between -180 and 180")
	}

	if err := s.presence.UpdateLocation(ctx, doctorID, lat, lng); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}

	active, err := s.repo.GetActiveConsultationForDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			return nil
		}
		return fmt.Errorf("load active consultation: %w", err)
	}

	if err := s.notifier.NotifyPatient(ctx, active.PatientID, notify.EventDoctorLocation, map[string]any{
		"consultation_id": active.ID.String(),
		"doctor_id":       doctorID.String(),
		"latitude":        lat,
		"longitude":       lng,
	}); err != nil {
		s.notifyDropped("consultation:doctorLocation", err)
	}

	return nil
}

// SetAvailability toggles whether the doctor receives offers, optionally
// updating their service radius.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, available bool, serviceRadiusKm *float64) error {
	if serviceRadiusKm != nil && *serviceRadiusKm <= 0 {
		return invalidField("service_radius_km", "must be positive")
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return err
	}

	if err := s.presence.SetAvailability(ctx, doctorID, available, serviceRadiusKm); err != nil {
		return fmt.Errorf("update availability: %w", err)
	}

	return nil
}

// GetConsultation fetches one consultation by id; clients use it to recover
// authoritative state after a missed push.
func (s *Service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetConsultationByID(ctx, id)
}

func (s *Service) ListConsultationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListConsultationsByPatient(ctx, patientID, limit, offset)
}

// withdrawFrom notifies every candidate except skip that the offer is gone.
func (s *Service) withdrawFrom(ctx context.Context, candidates []uuid.UUID, skip uuid.UUID, consultationID uuid.UUID) {
	others := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if id != skip {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}
	s.notifier.NotifyDoctors(ctx, others, notify.EventConsultationWithdrawn, map[string]any{
		"consultation_id": consultationID.String(),
	})
}

func (s *Service) countTerminal(status Status) {
	if s.metrics != nil {
		s.metrics.ConsultationsTotal.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) notifyDropped(event string, err error) {
	if s.metrics != nil {
		s.metrics.NotifyPublishFailures.Inc()
	}
	s.log.Warn("notification dropped", zap.String("event", event), zap.Error(err))
}

func (s *Service) logEvent(ctx context.Context, consultationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("event payload not marshalable", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	cid := consultationID
	ev := EventLog{
		EventType:      eventType,
		ConsultationID: &cid,
		Payload:        data,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("event log insert failed",
			zap.String("event", eventType),
			zap.String("consultation_id", consultationID.String()),
			zap.Error(err))
	}
}
