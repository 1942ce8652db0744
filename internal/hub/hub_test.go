package hub

import (
	"testing"

	"go.uber.org/zap"
)

func newClient(id, channel string, buffer int) *Client {
	return &Client{ID: id, Channel: channel, Send: make(chan []byte, buffer)}
}

func TestPublishReachesOnlySubscribedChannel(t *testing.T) {
	h := New(zap.NewNop())

	doctor := newClient("c1", "doctor:d1", 4)
	patient := newClient("c2", "patient:p1", 4)
	h.Register(doctor)
	h.Register(patient)

	h.Publish("doctor:d1", []byte("offer"))

	select {
	case msg := <-doctor.Send:
		if string(msg) != "offer" {
			t.Fatalf("got %q, want offer", msg)
		}
	default:
		t.Fatal("doctor client received nothing")
	}

	select {
	case msg := <-patient.Send:
		t.Fatalf("patient received %q for a doctor channel", msg)
	default:
	}
}

func TestMultipleConnectionsPerChannel(t *testing.T) {
	h := New(zap.NewNop())

	phone := newClient("c1", "doctor:d1", 4)
	tablet := newClient("c2", "doctor:d1", 4)
	h.Register(phone)
	h.Register(tablet)

	if got := h.Subscribers("doctor:d1"); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	h.Publish("doctor:d1", []byte("x"))
	if len(phone.Send) != 1 || len(tablet.Send) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(phone.Send), len(tablet.Send))
	}
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	h := New(zap.NewNop())

	slow := newClient("c1", "patient:p1", 1)
	h.Register(slow)

	// Second publish overflows the buffer and must return immediately.
	h.Publish("patient:p1", []byte("a"))
	h.Publish("patient:p1", []byte("b"))

	if got := len(slow.Send); got != 1 {
		t.Fatalf("buffered = %d, want 1 after drop", got)
	}
}

func TestUnregisterClosesSendAndPrunesChannel(t *testing.T) {
	h := New(zap.NewNop())

	c := newClient("c1", "doctor:d1", 4)
	h.Register(c)
	h.Unregister(c)

	if _, open := <-c.Send; open {
		t.Fatal("send channel left open after unregister")
	}
	if got := h.Subscribers("doctor:d1"); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}

	// A duplicate unregister is a no-op, not a double close.
	h.Unregister(c)
}
