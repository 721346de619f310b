package recipe

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// SlotRole distinguishes pickup from storage positions.
type SlotRole string

const (
	RoleInput  SlotRole = "input"
	RoleOutput SlotRole = "output"
)

// SlotDef is a calibrated storage position. Specimen is the occupant label,
// empty when the slot is free. Recipe optionally overrides the default
// recipe for specimens picked from this slot.
type SlotDef struct {
	ID       string
	Role     SlotRole
	Position [3]float64
	Specimen string
	Recipe   string
}

// Feeds carries calibrated feed rates in mm/min.
type Feeds struct {
	Rapid    float64
	Approach float64
}

// Calibration is the site-specific geometry and scaling data.
type Calibration struct {
	MicronsPerPixel  float64
	Beaker           [3]float64
	CameraOffset     [3]float64
	CleanImmersionZ  float64
	LastPolishZeroMM float64
	Feeds            Feeds
	Slots            []SlotDef
}

type rawCalibration struct {
	Vision struct {
		MicronsPerPixel float64 `yaml:"microns_per_pixel"`
	} `yaml:"vision"`
	Positions struct {
		Beaker          [3]float64 `yaml:"beaker"`
		CameraOffset    [3]float64 `yaml:"camera_offset"`
		CleanImmersionZ float64    `yaml:"clean_immersion_z_mm"`
		LastPolishZero  float64    `yaml:"last_polish_zero_mm"`
	} `yaml:"positions"`
	Feeds struct {
		Rapid    float64 `yaml:"rapid_mm_min"`
		Approach float64 `yaml:"approach_mm_min"`
	} `yaml:"feeds"`
	Slots []struct {
		ID       string     `yaml:"id"`
		Role     string     `yaml:"role"`
		Position [3]float64 `yaml:"position"`
		Specimen string     `yaml:"specimen"`
		Recipe   string     `yaml:"recipe"`
	} `yaml:"slots"`
}

// CalibrationStore loads the calibration file and persists the last known
// polishing zero back to it.
type CalibrationStore struct {
	path      string
	validator *Validator

	mu  sync.Mutex
	cal Calibration
}

func OpenCalibration(path string) (*CalibrationStore, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file %s: %w", path, err)
	}
	if err := validator.ValidateCalibration(data); err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}

	var raw rawCalibration
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("calibration %s: invalid YAML: %w", path, err)
	}

	cal := Calibration{
		MicronsPerPixel:  raw.Vision.MicronsPerPixel,
		Beaker:           raw.Positions.Beaker,
		CameraOffset:     raw.Positions.CameraOffset,
		CleanImmersionZ:  raw.Positions.CleanImmersionZ,
		LastPolishZeroMM: raw.Positions.LastPolishZero,
		Feeds: Feeds{
			Rapid:    raw.Feeds.Rapid,
			Approach: raw.Feeds.Approach,
		},
	}
	if cal.Feeds.Rapid == 0 {
		cal.Feeds.Rapid = 600
	}
	if cal.Feeds.Approach == 0 {
		cal.Feeds.Approach = 60
	}

	seen := make(map[string]struct{}, len(raw.Slots))
	for _, s := range raw.Slots {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("calibration %s: duplicate slot id %q", path, s.ID)
		}
		seen[s.ID] = struct{}{}
		cal.Slots = append(cal.Slots, SlotDef{
			ID:       s.ID,
			Role:     SlotRole(s.Role),
			Position: s.Position,
			Specimen: s.Specimen,
			Recipe:   s.Recipe,
		})
	}

	return &CalibrationStore{path: path, validator: validator, cal: cal}, nil
}

// Calibration returns a copy of the loaded calibration.
func (s *CalibrationStore) Calibration() Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.cal
	out.Slots = append([]SlotDef(nil), s.cal.Slots...)
	return out
}

// SetLastPolishZero persists the most recent confirmed contact height so the
// next run can seed its approach from a known-good depth.
func (s *CalibrationStore) SetLastPolishZero(z float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cal.LastPolishZeroMM = z
	return s.rewrite()
}

func (s *CalibrationStore) rewrite() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read calibration file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse calibration file: %w", err)
	}

	positions, ok := doc["positions"].(map[string]interface{})
	if !ok {
		positions = make(map[string]interface{})
		doc["positions"] = positions
	}
	positions["last_polish_zero_mm"] = s.cal.LastPolishZeroMM

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode calibration file: %w", err)
	}
	return os.WriteFile(s.path, out, 0o644)
}
