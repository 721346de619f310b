package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/ferralab/prepcore/internal/motion"
)

// StateIdle is reported by Snapshot when no job is executing. It is not a
// job state.
const StateIdle State = "idle"

// Event is one state transition, published to subscribers after the
// transition has been applied.
type Event struct {
	JobID    uuid.UUID `json:"job_id"`
	Specimen string    `json:"specimen"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Reason   Reason    `json:"reason,omitempty"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Snapshot is the read-only machine projection for observers. Two calls
// with no intervening events return identical values.
type Snapshot struct {
	State     State           `json:"state"`
	ActiveJob string          `json:"active_job,omitempty"`
	Position  motion.Position `json:"position"`
	Moving    bool            `json:"moving"`
	Connected bool            `json:"connected"`
	LastError string          `json:"last_error,omitempty"`
}

// Snapshot returns the current machine projection.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:     StateIdle,
		Position:  e.position,
		Moving:    e.moving,
		Connected: e.connected,
		LastError: e.lastError,
	}
	if e.active != nil {
		snap.State = e.active.State
		snap.ActiveJob = e.active.ID.String()
	}
	return snap
}

// SetConnected updates the hardware connectivity flag shown to observers.
func (e *Engine) SetConnected(connected bool) {
	e.mu.Lock()
	e.connected = connected
	e.mu.Unlock()
}

// Subscribe registers an observer channel for transition events. Slow
// observers miss events rather than stalling the workflow.
func (e *Engine) Subscribe() chan Event {
	ch := make(chan Event, 16)

	e.subsMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subsMu.Unlock()

	return ch
}

func (e *Engine) Unsubscribe(ch chan Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (e *Engine) publish(event Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, sub := range e.subscribers {
		select {
		case sub <- event:
		default:
			// Observer lagging, drop the event for it.
		}
	}
}
