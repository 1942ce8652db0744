package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event names mirror what the mobile clients subscribe to.
type Event string

const (
	EventConsultationNew       Event = "consultation:new"
	EventConsultationWithdrawn Event = "consultation:withdrawn"
	EventConsultationAccepted  Event = "consultation:accepted"
	EventDoctorLocation        Event = "consultation:doctorLocation"
	EventConsultationStarted   Event = "consultation:started"
	EventConsultationCompleted Event = "consultation:completed"
	EventConsultationCancelled Event = "consultation:cancelled"
)

// Envelope is the wire shape published on a channel. Payload stays opaque to
// the transport.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// DoctorChannel and PatientChannel build the pub/sub channel key for a party.
func DoctorChannel(id uuid.UUID) string  { return "doctor:" + id.String() }
func PatientChannel(id uuid.UUID) string { return "patient:" + id.String() }

// Notifier fans events out to doctor and patient channels. Delivery is
// best-effort: implementations report failures but callers must never let a
// failed publish block a state transition.
type Notifier interface {
	NotifyDoctor(ctx context.Context, doctorID uuid.UUID, event Event, payload any) error
	NotifyDoctors(ctx context.Context, doctorIDs []uuid.UUID, event Event, payload any)
	NotifyPatient(ctx context.Context, patientID uuid.UUID, event Event, payload any) error
}

type RedisNotifier struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisNotifier(client *redis.Client, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, log: log}
}

func (n *RedisNotifier) NotifyDoctor(ctx context.Context, doctorID uuid.UUID, event Event, payload any) error {
	return n.publish(ctx, DoctorChannel(doctorID), event, payload)
}

// NotifyDoctors publishes to every doctor, logging and skipping failures so
// one dead channel cannot starve the rest of the fan-out.
func (n *RedisNotifier) NotifyDoctors(ctx context.Context, doctorIDs []uuid.UUID, event Event, payload any) {
	for _, id := range doctorIDs {
		if err := n.publish(ctx, DoctorChannel(id), event, payload); err != nil {
			n.log.Warn("doctor notification dropped",
				zap.String("doctor_id", id.String()),
				zap.String("event", string(event)),
				zap.Error(err))
		}
	}
}

func (n *RedisNotifier) NotifyPatient(ctx context.Context, patientID uuid.UUID, event Event, payload any) error {
	return n.publish(ctx, PatientChannel(patientID), event, payload)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, event Event, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", event, err)
	}

	env := Envelope{Event: event, Payload: raw, SentAt: time.Now().UTC()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", event, err)
	}

	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}
	return nil
}
