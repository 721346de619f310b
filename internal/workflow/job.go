package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/ferralab/prepcore/internal/recipe"
)

// Measurement is one thickness inspection result.
type Measurement struct {
	At        time.Time `json:"at"`
	Iteration int       `json:"iteration"`
	WidthPx   float64   `json:"width_px"`
	WidthUm   float64   `json:"width_um"`
}

// Job is one specimen run. The recipe snapshot is immutable after enqueue;
// all other fields are mutated only by the engine worker under its lock.
type Job struct {
	ID         uuid.UUID
	Specimen   string
	SourceSlot string
	DestSlot   string
	Recipe     recipe.Recipe

	State  State
	Reason Reason
	Err    string

	// PolishZero is the Z height of confirmed electrolyte contact.
	// Defined only once the contact phase has succeeded.
	PolishZero   *float64
	Measurements []Measurement

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// JobView is the read-only projection handed to observers, storage and the
// REST surface.
type JobView struct {
	ID           uuid.UUID     `json:"id"`
	Specimen     string        `json:"specimen"`
	SourceSlot   string        `json:"source_slot"`
	DestSlot     string        `json:"dest_slot,omitempty"`
	Recipe       string        `json:"recipe"`
	State        State         `json:"state"`
	Reason       Reason        `json:"reason,omitempty"`
	Err          string        `json:"error,omitempty"`
	PolishZero   *float64      `json:"polish_zero,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
}

func (j *Job) view() JobView {
	view := JobView{
		ID:         j.ID,
		Specimen:   j.Specimen,
		SourceSlot: j.SourceSlot,
		DestSlot:   j.DestSlot,
		Recipe:     j.Recipe.Name,
		State:      j.State,
		Reason:     j.Reason,
		Err:        j.Err,
		EnqueuedAt: j.EnqueuedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.PolishZero != nil {
		zero := *j.PolishZero
		view.PolishZero = &zero
	}
	if len(j.Measurements) > 0 {
		view.Measurements = append([]Measurement(nil), j.Measurements...)
	}
	return view
}
