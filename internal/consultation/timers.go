package consultation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerRegistry tracks one in-process expiry timer per dispatch offer. The
// timers are an optimization for prompt expiry; correctness rests on the
// offer CAS, so a timer lost to a crash is covered by the sweep worker.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[uuid.UUID]*time.Timer)}
}

// schedule arms a timer for the consultation, replacing any existing one.
func (r *timerRegistry) schedule(id uuid.UUID, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(d, func() {
		r.remove(id)
		fn()
	})
}

// cancel stops the timer for the consultation. A timer that already fired is
// a safe no-op on the expiry path, so cancel never needs to win a race.
func (r *timerRegistry) cancel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *timerRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)
}

// stopAll is called on shutdown; pending offers are picked up by the sweep
// worker once their deadline passes.
func (r *timerRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
