package workflow

// State is a stop in the per-specimen lifecycle. Transitions follow the
// fixed preparation sequence; every failure path converges on Failed after
// the retract recovery has run.
type State string

const (
	StateQueued              State = "queued"
	StateMovingToPickup      State = "moving_to_pickup"
	StatePicking             State = "picking"
	StateMovingToBeaker      State = "moving_to_beaker"
	StateSeekingContact      State = "seeking_contact"
	StatePolishing           State = "polishing"
	StateMovingToInspect     State = "moving_to_inspect"
	StateInspecting          State = "inspecting"
	StateEvaluatingThickness State = "evaluating_thickness"
	StateSeekingSeparation   State = "seeking_separation"
	StateMovingToClean       State = "moving_to_clean"
	StateCleaning            State = "cleaning"
	StateMovingToStore       State = "moving_to_store"
	StatePlacing             State = "placing"
	StateDone                State = "done"
	StateAborted             State = "aborted"
	StateFailed              State = "failed"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateAborted, StateFailed:
		return true
	}
	return false
}

// Reason codes attached to Failed jobs.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMotionError         Reason = "motion_error"
	ReasonMotionTimeout       Reason = "motion_timeout"
	ReasonInstrumentError     Reason = "instrument_error"
	ReasonNoContact           Reason = "no_contact"
	ReasonImagingFailure      Reason = "imaging_failure"
	ReasonThicknessNotReached Reason = "thickness_not_reached"
	ReasonSeparationTimeout   Reason = "separation_timeout"
	ReasonNoOutputSlot        Reason = "no_output_slot"
	ReasonUnsupportedConfig   Reason = "unsupported_configuration"
)
