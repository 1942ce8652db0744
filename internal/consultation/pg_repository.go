package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const consultationColumns = `
	id, patient_id, doctor_id, origin_address, origin_lat, origin_lng,
	complaint, diagnosis, treatment, status, cancel_reason, payment_status,
	created_at, updated_at, start_time, end_time, duration_minutes, total_cents
`

// Helpers

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var reason *string

	err := row.Scan(
		&c.ID,
		&c.PatientID,
		&c.DoctorID,
		&c.OriginAddress,
		&c.OriginLat,
		&c.OriginLng,
		&c.Complaint,
		&c.Diagnosis,
		&c.Treatment,
		&c.Status,
		&reason,
		&c.PaymentStatus,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.StartTime,
		&c.EndTime,
		&c.DurationMinutes,
		&c.TotalCents,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, err
	}

	if reason != nil {
		r := CancelReason(*reason)
		c.CancelReason = &r
	}
	return &c, nil
}

func scanOffer(row pgx.Row) (*DispatchOffer, error) {
	var o DispatchOffer

	err := row.Scan(
		&o.ConsultationID,
		&o.Candidates,
		&o.ExpiresAt,
		&o.Resolved,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}

	return &o, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, hourly_rate_cents, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.HourlyRateCents, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultations (
			id, patient_id, origin_address, origin_lat, origin_lng, complaint,
			status, payment_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 'pending', now(), now())
		RETURNING `+consultationColumns,
		id, c.PatientID, c.OriginAddress, c.OriginLat, c.OriginLng, c.Complaint)

	return scanConsultation(row)
}

func (r *PgRepository) GetConsultationByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE id = $1
	`, id)
	return scanConsultation(row)
}

func (r *PgRepository) ListConsultationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetActiveConsultationForDoctor(ctx context.Context, doctorID uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE doctor_id = $1
		  AND status IN ('accepted', 'in_progress')
		ORDER BY updated_at DESC
		LIMIT 1
	`, doctorID)
	return scanConsultation(row)
}

// ConditionalAccept is the accept race's single mutation path: the row update
// only matches while the consultation is pending and unassigned, and the
// offer is resolved inside the same transaction.
func (r *PgRepository) ConditionalAccept(ctx context.Context, id, doctorID uuid.UUID) (*Consultation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE consultations
		SET doctor_id = $2,
		    status = 'accepted',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND doctor_id IS NULL
		RETURNING `+consultationColumns,
		id, doctorID)

	c, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE dispatch_offers
		SET resolved = true
		WHERE consultation_id = $1
		  AND resolved = false
	`, id); err != nil {
		return nil, fmt.Errorf("resolve offer on accept: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept tx: %w", err)
	}

	return c, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, set StatusUpdate) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consultations
		SET status = $3,
		    updated_at = now(),
		    cancel_reason = COALESCE($4, cancel_reason),
		    start_time = COALESCE($5, start_time),
		    end_time = COALESCE($6, end_time),
		    duration_minutes = COALESCE($7, duration_minutes),
		    total_cents = COALESCE($8, total_cents),
		    diagnosis = COALESCE($9, diagnosis),
		    treatment = COALESCE($10, treatment)
		WHERE id = $1
		  AND status = $2
		RETURNING `+consultationColumns,
		id, from, to,
		set.CancelReason, set.StartTime, set.EndTime,
		set.DurationMinutes, set.TotalCents, set.Diagnosis, set.Treatment)

	c, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return c, nil
}

func (r *PgRepository) CreateOffer(ctx context.Context, offer *DispatchOffer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dispatch_offers (consultation_id, candidates, expires_at, resolved, created_at)
		VALUES ($1, $2, $3, false, now())
	`, offer.ConsultationID, offer.Candidates, offer.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert dispatch offer: %w", err)
	}
	return nil
}

func (r *PgRepository) GetOffer(ctx context.Context, consultationID uuid.UUID) (*DispatchOffer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT consultation_id, candidates, expires_at, resolved, created_at
		FROM dispatch_offers
		WHERE consultation_id = $1
	`, consultationID)
	return scanOffer(row)
}

func (r *PgRepository) ResolveOffer(ctx context.Context, consultationID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dispatch_offers
		SET resolved = true
		WHERE consultation_id = $1
		  AND resolved = false
	`, consultationID)
	if err != nil {
		return false, fmt.Errorf("resolve dispatch offer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) RemoveCandidate(ctx context.Context, consultationID, doctorID uuid.UUID) (*DispatchOffer, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE dispatch_offers
		SET candidates = array_remove(candidates, $2)
		WHERE consultation_id = $1
		  AND resolved = false
		RETURNING consultation_id, candidates, expires_at, resolved, created_at
	`, consultationID, doctorID)
	return scanOffer(row)
}

func (r *PgRepository) FindExpiredUnresolved(ctx context.Context, now time.Time) ([]DispatchOffer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT consultation_id, candidates, expires_at, resolved, created_at
		FROM dispatch_offers
		WHERE resolved = false
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DispatchOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, consultation_id, amount_cents, platform_fee_cents, doctor_payout_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, p.ID, p.ConsultationID, p.AmountCents, p.PlatformFeeCents, p.DoctorPayoutCents, p.Status)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PgRepository) SetPaymentIntent(ctx context.Context, paymentID uuid.UUID, intentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET intent_id = $2
		WHERE id = $1
	`, paymentID, intentID)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, consultation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ConsultationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
