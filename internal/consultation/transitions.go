package consultation

// Event names a lifecycle transition attempt.
type Event string

const (
	EventAccept        Event = "accept"
	EventExpire        Event = "expire"
	EventPatientCancel Event = "patient_cancel"
	EventStart         Event = "start"
	EventComplete      Event = "complete"
)

// transitionTable maps each event to the statuses it may fire from.
// A started or finished visit can never be cancelled; it must be completed.
var transitionTable = map[Event][]Status{
	EventAccept:        {StatusPending},
	EventExpire:        {StatusPending},
	EventPatientCancel: {StatusPending, StatusAccepted},
	EventStart:         {StatusAccepted},
	EventComplete:      {StatusInProgress},
}

// nextStatus maps each event to the status it lands on.
var nextStatus = map[Event]Status{
	EventAccept:        StatusAccepted,
	EventExpire:        StatusCancelled,
	EventPatientCancel: StatusCancelled,
	EventStart:         StatusInProgress,
	EventComplete:      StatusCompleted,
}

// ValidTransition reports whether the event may fire from the given status.
func ValidTransition(event Event, from Status) bool {
	allowed, ok := transitionTable[event]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}

// Next returns the target status for an event. The second return is false
// for unknown events.
func Next(event Event) (Status, bool) {
	s, ok := nextStatus[event]
	return s, ok
}
