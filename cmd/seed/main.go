package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homedoc/consult-dispatch/internal/db"
	"github.com/homedoc/consult-dispatch/internal/presence"
	redisclient "github.com/homedoc/consult-dispatch/internal/redis"
)

// Seeded doctors cluster around central São Paulo so a simulated patient
// anywhere in the city finds candidates.
const (
	centerLat = -23.5505
	centerLng = -46.6333
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS doctors (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		specialty TEXT NOT NULL,
		hourly_rate_cents BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS consultations (
		id UUID PRIMARY KEY,
		patient_id UUID NOT NULL REFERENCES patients(id),
		doctor_id UUID REFERENCES doctors(id),
		origin_address TEXT NOT NULL,
		origin_lat DOUBLE PRECISION NOT NULL,
		origin_lng DOUBLE PRECISION NOT NULL,
		complaint TEXT NOT NULL,
		diagnosis TEXT,
		treatment TEXT,
		status TEXT NOT NULL,
		cancel_reason TEXT,
		payment_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ,
		duration_minutes INT,
		total_cents BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_patient ON consultations (patient_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_doctor_active ON consultations (doctor_id) WHERE status IN ('accepted', 'in_progress')`,
	`CREATE TABLE IF NOT EXISTS dispatch_offers (
		consultation_id UUID PRIMARY KEY REFERENCES consultations(id),
		candidates UUID[] NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offers_unresolved ON dispatch_offers (expires_at) WHERE NOT resolved`,
	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		consultation_id UUID NOT NULL REFERENCES consultations(id),
		amount_cents BIGINT NOT NULL,
		platform_fee_cents BIGINT NOT NULL,
		doctor_payout_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		intent_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		consultation_id UUID NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_consultation ON event_logs (consultation_id, created_at)`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := createSchema(context.Background(), pool); err != nil {
		log.Fatalf("create schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 120)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if err := seedPresence(context.Background(), addr, doctorIDs); err != nil {
			log.Fatalf("seed presence: %v", err)
		}
	} else {
		log.Println("REDIS_ADDR not set, skipping presence seed")
	}

	log.Println("seed complete")
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("applying schema")
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"General Practice",
		"Pediatrics",
		"Geriatrics",
		"Cardiology",
		"Dermatology",
		"Psychiatry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		rate := int64(gofakeit.Number(9000, 30000)) // R$90 to R$300 per hour

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, hourly_rate_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, rate)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedPresence marks every doctor online somewhere within roughly 20km of the
// city center, so dispatch finds candidates right after seeding.
func seedPresence(ctx context.Context, addr string, doctorIDs []uuid.UUID) error {
	log.Printf("seeding presence for %d doctors", len(doctorIDs))

	rdb, err := redisclient.NewRedisClient(addr, os.Getenv("REDIS_USERNAME"), os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := presence.NewRedisStore(rdb)
	for _, id := range doctorIDs {
		lat := centerLat + gofakeit.Float64Range(-0.18, 0.18)
		lng := centerLng + gofakeit.Float64Range(-0.18, 0.18)
		radius := gofakeit.Float64Range(5, 25)

		if err := store.SetAvailability(ctx, id, true, &radius); err != nil {
			return err
		}
		if err := store.UpdateLocation(ctx, id, lat, lng); err != nil {
			return err
		}
	}

	log.Println("presence seeded")
	return nil
}
