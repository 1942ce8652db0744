package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homedoc/consult-dispatch/internal/config"
	"github.com/homedoc/consult-dispatch/internal/consultation"
	"github.com/homedoc/consult-dispatch/internal/geo"
	"github.com/homedoc/consult-dispatch/internal/notify"
	"github.com/homedoc/consult-dispatch/internal/payments"
	"github.com/homedoc/consult-dispatch/internal/presence"
)

// memRepo is a minimal in-memory consultation.Repository for routing tests.
// The CAS semantics live in the consultation package tests; here the repo only
// needs to be state-correct for single-threaded request sequences.
type memRepo struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]*consultation.Patient
	doctors       map[uuid.UUID]*consultation.Doctor
	consultations map[uuid.UUID]*consultation.Consultation
	offers        map[uuid.UUID]*consultation.DispatchOffer
	payments      []*consultation.Payment
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:      make(map[uuid.UUID]*consultation.Patient),
		doctors:       make(map[uuid.UUID]*consultation.Doctor),
		consultations: make(map[uuid.UUID]*consultation.Consultation),
		offers:        make(map[uuid.UUID]*consultation.DispatchOffer),
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*consultation.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, consultation.ErrPatientNotFound
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*consultation.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.doctors[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, consultation.ErrDoctorNotFound
}

func (r *memRepo) CreateConsultation(_ context.Context, c *consultation.Consultation) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	stored := *c
	stored.ID = uuid.New()
	stored.Status = consultation.StatusPending
	stored.PaymentStatus = consultation.PaymentPending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.consultations[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (r *memRepo) GetConsultationByID(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.consultations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, consultation.ErrConsultationNotFound
}

func (r *memRepo) ListConsultationsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []consultation.Consultation
	for _, c := range r.consultations {
		if c.PatientID == patientID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) GetActiveConsultationForDoctor(_ context.Context, doctorID uuid.UUID) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.consultations {
		if c.DoctorID != nil && *c.DoctorID == doctorID &&
			(c.Status == consultation.StatusAccepted || c.Status == consultation.StatusInProgress) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, consultation.ErrConsultationNotFound
}

func (r *memRepo) ConditionalAccept(_ context.Context, id, doctorID uuid.UUID) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok || c.Status != consultation.StatusPending || c.DoctorID != nil {
		return nil, consultation.ErrConditionFailed
	}
	d := doctorID
	c.DoctorID = &d
	c.Status = consultation.StatusAccepted
	if o, ok := r.offers[id]; ok {
		o.Resolved = true
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to consultation.Status, set consultation.StatusUpdate) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok || c.Status != from {
		return nil, consultation.ErrConditionFailed
	}
	c.Status = to
	if set.CancelReason != nil {
		c.CancelReason = set.CancelReason
	}
	if set.StartTime != nil {
		c.StartTime = set.StartTime
	}
	if set.EndTime != nil {
		c.EndTime = set.EndTime
	}
	if set.DurationMinutes != nil {
		c.DurationMinutes = set.DurationMinutes
	}
	if set.TotalCents != nil {
		c.TotalCents = set.TotalCents
	}
	if set.Diagnosis != nil {
		c.Diagnosis = set.Diagnosis
	}
	if set.Treatment != nil {
		c.Treatment = set.Treatment
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) CreateOffer(_ context.Context, offer *consultation.DispatchOffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *offer
	r.offers[offer.ConsultationID] = &stored
	return nil
}

func (r *memRepo) GetOffer(_ context.Context, consultationID uuid.UUID) (*consultation.DispatchOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.offers[consultationID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, consultation.ErrOfferNotFound
}

func (r *memRepo) ResolveOffer(_ context.Context, consultationID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[consultationID]
	if !ok || o.Resolved {
		return false, nil
	}
	o.Resolved = true
	return true, nil
}

func (r *memRepo) RemoveCandidate(_ context.Context, consultationID, doctorID uuid.UUID) (*consultation.DispatchOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[consultationID]
	if !ok || o.Resolved {
		return nil, consultation.ErrOfferNotFound
	}
	kept := o.Candidates[:0]
	for _, id := range o.Candidates {
		if id != doctorID {
			kept = append(kept, id)
		}
	}
	o.Candidates = kept
	cp := *o
	return &cp, nil
}

func (r *memRepo) FindExpiredUnresolved(_ context.Context, _ time.Time) ([]consultation.DispatchOffer, error) {
	return nil, nil
}

func (r *memRepo) CreatePayment(_ context.Context, p *consultation.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments = append(r.payments, &cp)
	return nil
}

func (r *memRepo) SetPaymentIntent(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (r *memRepo) InsertEvent(_ context.Context, _ consultation.EventLog) error { return nil }

type memPresence struct {
	mu      sync.Mutex
	records map[uuid.UUID]*presence.Record
}

func newMemPresence() *memPresence {
	return &memPresence{records: make(map[uuid.UUID]*presence.Record)}
}

func (p *memPresence) UpdateLocation(_ context.Context, doctorID uuid.UUID, lat, lng float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[doctorID]
	if !ok {
		rec = &presence.Record{DoctorID: doctorID}
		p.records[doctorID] = rec
	}
	rec.Latitude = lat
	rec.Longitude = lng
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *memPresence) SetAvailability(_ context.Context, doctorID uuid.UUID, available bool, radius *float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[doctorID]
	if !ok {
		rec = &presence.Record{DoctorID: doctorID}
		p.records[doctorID] = rec
	}
	rec.Available = available
	if radius != nil {
		rec.ServiceRadiusKm = *radius
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *memPresence) Get(_ context.Context, doctorID uuid.UUID) (*presence.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[doctorID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, presence.ErrNotTracked
}

func (p *memPresence) Snapshot(_ context.Context, _ time.Duration) ([]geo.DoctorLocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]geo.DoctorLocation, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, geo.DoctorLocation{
			DoctorID:        rec.DoctorID,
			Location:        geo.Point{Lat: rec.Latitude, Lng: rec.Longitude},
			Available:       rec.Available,
			ServiceRadiusKm: rec.ServiceRadiusKm,
		})
	}
	return out, nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyDoctor(context.Context, uuid.UUID, notify.Event, any) error  { return nil }
func (noopNotifier) NotifyDoctors(context.Context, []uuid.UUID, notify.Event, any)     {}
func (noopNotifier) NotifyPatient(context.Context, uuid.UUID, notify.Event, any) error { return nil }

type passLocker struct{}

func (passLocker) WithDispatchLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type env struct {
	router  http.Handler
	repo    *memRepo
	patient *consultation.Patient
	doctor  *consultation.Doctor
}

func newEnv(t *testing.T) *env {
	t.Helper()

	repo := newMemRepo()
	pres := newMemPresence()

	patient := &consultation.Patient{ID: uuid.New(), Name: "Ana Souza"}
	repo.patients[patient.ID] = patient

	doctor := &consultation.Doctor{ID: uuid.New(), Name: "Dr. Lima", HourlyRateCents: 15000}
	repo.doctors[doctor.ID] = doctor
	radius := 50.0
	_ = pres.SetAvailability(context.Background(), doctor.ID, true, &radius)
	_ = pres.UpdateLocation(context.Background(), doctor.ID, -23.56, -46.64)

	cfg := config.Config{
		OfferTTL:           time.Minute,
		SearchRadiusKm:     20,
		PlatformFeePercent: 15,
	}
	svc := consultation.NewService(repo, pres, noopNotifier{}, payments.Disabled{}, passLocker{}, cfg, zap.NewNop(), nil)
	t.Cleanup(svc.Close)

	router := NewRouter(RouterConfig{
		Service: svc,
		Logger:  zap.NewNop(),
		Env:     "test",
		Version: "test",
	})

	return &env{router: router, repo: repo, patient: patient, doctor: doctor}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) createConsultation(t *testing.T) ConsultationResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/consultations", CreateConsultationRequest{
		PatientID:     e.patient.ID.String(),
		OriginAddress: "Rua Augusta 100",
		OriginLat:     -23.55,
		OriginLng:     -46.63,
		Complaint:     "fever",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ConsultationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateConsultationEndpoint(t *testing.T) {
	e := newEnv(t)

	resp := e.createConsultation(t)
	if resp.Status != "pending" {
		t.Fatalf("status = %s, want pending", resp.Status)
	}
	if resp.PatientID != e.patient.ID {
		t.Fatalf("patient_id = %s, want %s", resp.PatientID, e.patient.ID)
	}
}

func TestCreateConsultationValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/consultations", CreateConsultationRequest{
		PatientID:     e.patient.ID.String(),
		OriginAddress: "Rua Augusta 100",
		OriginLat:     -23.55,
		OriginLng:     -46.63,
		Complaint:     "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != "invalid_complaint" {
		t.Fatalf("error code = %q, want invalid_complaint", errResp.Error)
	}

	rec = e.do(t, http.MethodPost, "/consultations", CreateConsultationRequest{
		PatientID: "not-a-uuid",
		Complaint: "fever",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad uuid", rec.Code)
	}
}

func TestCreateConsultationUnknownPatient(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/consultations", CreateConsultationRequest{
		PatientID:     uuid.NewString(),
		OriginAddress: "Rua Augusta 100",
		OriginLat:     -23.55,
		OriginLng:     -46.63,
		Complaint:     "fever",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAcceptConflictMapsTo409(t *testing.T) {
	e := newEnv(t)

	second := &consultation.Doctor{ID: uuid.New(), Name: "Dr. Reis", HourlyRateCents: 12000}
	e.repo.mu.Lock()
	e.repo.doctors[second.ID] = second
	e.repo.mu.Unlock()

	c := e.createConsultation(t)

	// Force the second doctor into the candidate set so the lost accept is a
	// race conflict rather than a membership rejection.
	e.repo.mu.Lock()
	offer := e.repo.offers[c.ID]
	offer.Candidates = append(offer.Candidates, second.ID)
	e.repo.mu.Unlock()

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/accept", c.ID), DoctorActionRequest{DoctorID: e.doctor.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("first accept = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/accept", c.ID), DoctorActionRequest{DoctorID: second.ID.String()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second accept = %d, want 409", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != "consultation_taken" {
		t.Fatalf("error code = %q, want consultation_taken", errResp.Error)
	}
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	c := e.createConsultation(t)
	doctorReq := DoctorActionRequest{DoctorID: e.doctor.ID.String()}

	if rec := e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/accept", c.ID), doctorReq); rec.Code != http.StatusOK {
		t.Fatalf("accept = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/start", c.ID), doctorReq); rec.Code != http.StatusOK {
		t.Fatalf("start = %d, body %s", rec.Code, rec.Body.String())
	}

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/complete", c.ID), CompleteConsultationRequest{
		DoctorID:  e.doctor.ID.String(),
		Diagnosis: "viral infection",
		Treatment: "rest and fluids",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp CompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Consultation.Status != "completed" {
		t.Fatalf("status = %s, want completed", resp.Consultation.Status)
	}
	if resp.Billing.TotalCents <= 0 {
		t.Fatalf("total_cents = %d, want positive", resp.Billing.TotalCents)
	}
	// The payment gateway is disabled in tests, so completion carries a
	// warning instead of failing.
	if resp.Warning == "" {
		t.Fatal("expected a payment warning with the gateway disabled")
	}

	// The final row is readable back.
	get := e.do(t, http.MethodGet, fmt.Sprintf("/consultations/%s", c.ID), nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get = %d", get.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	e := newEnv(t)

	c := e.createConsultation(t)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/cancel", c.ID), CancelConsultationRequest{PatientID: e.patient.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ConsultationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "cancelled" || resp.CancelReason == nil || *resp.CancelReason != "patient_cancelled" {
		t.Fatalf("cancelled row = %+v", resp)
	}

	// Cancelling someone else's consultation is forbidden.
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/consultations/%s/cancel", c.ID), CancelConsultationRequest{PatientID: uuid.NewString()})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel = %d, want 403", rec.Code)
	}
}

func TestListConsultationsEndpoint(t *testing.T) {
	e := newEnv(t)

	first := e.createConsultation(t)
	_ = e.createConsultation(t)

	rec := e.do(t, http.MethodGet, "/consultations?patient_id="+e.patient.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var resp ConsultationListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Consultations) != 2 {
		t.Fatalf("listed = %d, want 2", len(resp.Consultations))
	}
	found := false
	for _, item := range resp.Consultations {
		if item.ID == first.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("created consultation missing from listing")
	}

	rec = e.do(t, http.MethodGet, "/consultations?patient_id=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad patient_id = %d, want 400", rec.Code)
	}
}

func TestDoctorPresenceEndpoints(t *testing.T) {
	e := newEnv(t)

	path := fmt.Sprintf("/doctors/%s/location", e.doctor.ID)
	if rec := e.do(t, http.MethodPut, path, LocationRequest{Latitude: -23.54, Longitude: -46.62}); rec.Code != http.StatusNoContent {
		t.Fatalf("location = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := e.do(t, http.MethodPut, path, LocationRequest{Latitude: 91, Longitude: 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad latitude = %d, want 400", rec.Code)
	}

	radius := 12.5
	avail := fmt.Sprintf("/doctors/%s/availability", e.doctor.ID)
	if rec := e.do(t, http.MethodPut, avail, AvailabilityRequest{Available: false, ServiceRadiusKm: &radius}); rec.Code != http.StatusNoContent {
		t.Fatalf("availability = %d, body %s", rec.Code, rec.Body.String())
	}

	// An unavailable doctor is no longer a dispatch candidate.
	rec := e.do(t, http.MethodPost, "/consultations", CreateConsultationRequest{
		PatientID:     e.patient.ID.String(),
		OriginAddress: "Rua Augusta 100",
		OriginLat:     -23.55,
		OriginLng:     -46.63,
		Complaint:     "fever",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	var resp ConsultationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "cancelled" || resp.CancelReason == nil || *resp.CancelReason != "no_doctors_available" {
		t.Fatalf("dispatch outcome = %+v, want cancelled/no_doctors_available", resp)
	}
}
