package recipe

import (
	"fmt"
	"time"
)

// CycleMode selects how a polishing segment terminates.
type CycleMode string

const (
	ModeTime  CycleMode = "time"
	ModeCount CycleMode = "count"
	// ModeCharge is recognized but not implemented. The cycle controller
	// rejects it before issuing any motion.
	ModeCharge CycleMode = "charge"
)

var validModes = map[CycleMode]struct{}{
	ModeTime:   {},
	ModeCount:  {},
	ModeCharge: {},
}

// Waveform describes the Z oscillation about the polishing zero.
type Waveform struct {
	CenterOffsetMM float64       `yaml:"center_offset_mm"`
	AmplitudeMM    float64       `yaml:"amplitude_mm"`
	Period         time.Duration `yaml:"period"`
}

type Cycle struct {
	Mode           CycleMode     `yaml:"mode"`
	Duration       time.Duration `yaml:"duration"`
	Count          int           `yaml:"count"`
	TargetChargeC  float64       `yaml:"target_charge_c"`
}

// Contact holds the descend-and-sense parameters for electrolyte contact.
type Contact struct {
	StepMM      float64       `yaml:"approach_step_mm"`
	ThresholdMA float64       `yaml:"detection_current_ma"`
	Confirm     int           `yaml:"confirm_samples"`
	MaxDepthMM  float64       `yaml:"max_depth_mm"`
	RetractMM   float64       `yaml:"retract_mm"`
	Settle      time.Duration `yaml:"settle"`
}

// Separation holds current-drop detection parameters.
type Separation struct {
	DropMA float64       `yaml:"drop_ma"`
	Window time.Duration `yaml:"window"`
}

type Cleaning struct {
	Rinse time.Duration `yaml:"rinse"`
}

// Imaging holds thickness-endpoint parameters.
type Imaging struct {
	ThresholdUm   float64       `yaml:"threshold_um"`
	Interval      time.Duration `yaml:"interval"`
	MaxIterations int           `yaml:"max_iterations"`
}

// Macro names a G-code snippet file relative to the recipes directory.
type Macro struct {
	Name        string `yaml:"-"`
	File        string `yaml:"file"`
	Description string `yaml:"description,omitempty"`
}

// Recipe is the immutable parameter bundle bound to a job at enqueue time.
type Recipe struct {
	Name        string
	Description string

	SafeZMM     float64
	PickupMacro string
	PlaceMacro  string
	Macros      map[string]Macro

	Waveform   Waveform
	Cycle      Cycle
	Contact    Contact
	Separation Separation
	Cleaning   Cleaning
	Imaging    Imaging

	VoltageV      float64
	CurrentLimitA float64
}

// Validate checks the semantic constraints the JSON schema cannot express.
// A recipe that fails here is a precondition failure at enqueue time.
func (r Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name must not be empty")
	}
	if _, ok := validModes[r.Cycle.Mode]; !ok {
		return fmt.Errorf("recipe %q: unknown cycle mode %q", r.Name, r.Cycle.Mode)
	}
	switch r.Cycle.Mode {
	case ModeTime:
		if r.Cycle.Duration <= 0 {
			return fmt.Errorf("recipe %q: time mode requires a positive duration", r.Name)
		}
	case ModeCount:
		if r.Cycle.Count <= 0 {
			return fmt.Errorf("recipe %q: count mode requires a positive count", r.Name)
		}
	}
	if r.Waveform.AmplitudeMM <= 0 {
		return fmt.Errorf("recipe %q: waveform amplitude must be positive", r.Name)
	}
	if r.Waveform.Period <= 0 {
		return fmt.Errorf("recipe %q: waveform period must be positive", r.Name)
	}
	if r.Contact.StepMM <= 0 {
		return fmt.Errorf("recipe %q: contact approach step must be positive", r.Name)
	}
	if r.Contact.MaxDepthMM <= 0 {
		return fmt.Errorf("recipe %q: contact max depth must be positive", r.Name)
	}
	if r.Contact.Confirm < 1 {
		return fmt.Errorf("recipe %q: contact confirm samples must be at least 1", r.Name)
	}
	if r.Imaging.ThresholdUm <= 0 {
		return fmt.Errorf("recipe %q: thickness threshold must be positive", r.Name)
	}
	if r.Imaging.MaxIterations < 1 {
		return fmt.Errorf("recipe %q: max polish/inspect iterations must be at least 1", r.Name)
	}
	if r.PickupMacro == "" || r.PlaceMacro == "" {
		return fmt.Errorf("recipe %q: pickup and place macros are required", r.Name)
	}
	if _, ok := r.Macros[r.PickupMacro]; !ok {
		return fmt.Errorf("recipe %q: missing pickup macro %q", r.Name, r.PickupMacro)
	}
	if _, ok := r.Macros[r.PlaceMacro]; !ok {
		return fmt.Errorf("recipe %q: missing place macro %q", r.Name, r.PlaceMacro)
	}
	if r.VoltageV <= 0 {
		return fmt.Errorf("recipe %q: polishing voltage must be positive", r.Name)
	}
	if r.CurrentLimitA <= 0 {
		return fmt.Errorf("recipe %q: current limit must be positive", r.Name)
	}
	return nil
}
