package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/homedoc/consult-dispatch/internal/geo"
)

const hashKey = "presence:doctors"

var ErrNotTracked = errors.New("doctor has no presence record")

// Record is the last-known availability snapshot for one doctor. Writes are
// last-write-wins per doctor; there is no durability guarantee beyond the
// most recent ping.
type Record struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Available       bool      `json:"available"`
	ServiceRadiusKm float64   `json:"service_radius_km"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store tracks doctor presence. Location pings and availability toggles are
// independent and eventually consistent; nothing here gates the accept race.
type Store interface {
	UpdateLocation(ctx context.Context, doctorID uuid.UUID, lat, lng float64) error
	SetAvailability(ctx context.Context, doctorID uuid.UUID, available bool, serviceRadiusKm *float64) error
	Get(ctx context.Context, doctorID uuid.UUID) (*Record, error)

	// Snapshot returns every doctor whose last ping is newer than maxAge,
	// in the shape the geo index consumes. maxAge <= 0 disables the cutoff.
	Snapshot(ctx context.Context, maxAge time.Duration) ([]geo.DoctorLocation, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) UpdateLocation(ctx context.Context, doctorID uuid.UUID, lat, lng float64) error {
	rec, err := s.Get(ctx, doctorID)
	if err != nil {
		if !errors.Is(err, ErrNotTracked) {
			return err
		}
		rec = &Record{DoctorID: doctorID}
	}

	rec.Latitude = lat
	rec.Longitude = lng
	rec.UpdatedAt = time.Now().UTC()

	return s.put(ctx, rec)
}

func (s *RedisStore) SetAvailability(ctx context.Context, doctorID uuid.UUID, available bool, serviceRadiusKm *float64) error {
	rec, err := s.Get(ctx, doctorID)
	if err != nil {
		if !errors.Is(err, ErrNotTracked) {
			return err
		}
		rec = &Record{DoctorID: doctorID}
	}

	rec.Available = available
	if serviceRadiusKm != nil {
		rec.ServiceRadiusKm = *serviceRadiusKm
	}
	rec.UpdatedAt = time.Now().UTC()

	return s.put(ctx, rec)
}

func (s *RedisStore) Get(ctx context.Context, doctorID uuid.UUID) (*Record, error) {
	raw, err := s.client.HGet(ctx, hashKey, doctorID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotTracked
		}
		return nil, fmt.Errorf("read presence for %s: %w", doctorID, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode presence for %s: %w", doctorID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, maxAge time.Duration) ([]geo.DoctorLocation, error) {
	all, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence snapshot: %w", err)
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	snapshot := make([]geo.DoctorLocation, 0, len(all))
	for _, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// A corrupt entry only drops that one doctor from the round.
			continue
		}
		if !cutoff.IsZero() && rec.UpdatedAt.Before(cutoff) {
			continue
		}
		snapshot = append(snapshot, geo.DoctorLocation{
			DoctorID:        rec.DoctorID,
			Location:        geo.Point{Lat: rec.Latitude, Lng: rec.Longitude},
			Available:       rec.Available,
			ServiceRadiusKm: rec.ServiceRadiusKm,
		})
	}

	return snapshot, nil
}

func (s *RedisStore) put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode presence for %s: %w", rec.DoctorID, err)
	}
	if err := s.client.HSet(ctx, hashKey, rec.DoctorID.String(), data).Err(); err != nil {
		return fmt.Errorf("write presence for %s: %w", rec.DoctorID, err)
	}
	return nil
}
