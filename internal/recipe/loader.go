package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawRecipe mirrors the on-disk YAML layout. Durations are plain seconds
// (or milliseconds where noted) so recipe files stay unit-explicit.
type rawRecipe struct {
	Metadata struct {
		Description string `yaml:"description"`
	} `yaml:"metadata"`
	Motion struct {
		SafeZMM     float64 `yaml:"safe_z_mm"`
		PickupMacro string  `yaml:"pickup_macro"`
		PlaceMacro  string  `yaml:"place_macro"`
	} `yaml:"motion"`
	MotionMacros map[string]yaml.Node `yaml:"motion_macros"`
	Polishing    struct {
		VoltageV      float64 `yaml:"voltage_v"`
		CurrentLimitA float64 `yaml:"current_limit_a"`
		Waveform      struct {
			CenterOffsetMM float64 `yaml:"center_offset_mm"`
			AmplitudeMM    float64 `yaml:"amplitude_mm"`
			PeriodS        float64 `yaml:"period_s"`
		} `yaml:"waveform"`
		Contact struct {
			StepMM      float64 `yaml:"approach_step_mm"`
			ThresholdMA float64 `yaml:"detection_current_ma"`
			Confirm     int     `yaml:"confirm_samples"`
			MaxDepthMM  float64 `yaml:"max_depth_mm"`
			RetractMM   float64 `yaml:"retract_mm"`
			SettleMS    int     `yaml:"settle_ms"`
		} `yaml:"contact"`
		Cycle struct {
			Mode          string  `yaml:"mode"`
			DurationS     float64 `yaml:"duration_s"`
			Count         int     `yaml:"count"`
			TargetChargeC float64 `yaml:"target_charge_c"`
		} `yaml:"cycle"`
	} `yaml:"polishing"`
	Separation struct {
		DropMA  float64 `yaml:"drop_ma"`
		WindowS float64 `yaml:"window_s"`
	} `yaml:"separation"`
	Cleaning struct {
		RinseS float64 `yaml:"rinse_s"`
	} `yaml:"cleaning"`
	Imaging struct {
		ThresholdUm   float64 `yaml:"threshold_um"`
		IntervalS     float64 `yaml:"interval_s"`
		MaxIterations int     `yaml:"max_iterations"`
	} `yaml:"imaging"`
}

// Loader reads and validates recipe YAML files from a directory.
type Loader struct {
	dir       string
	validator *Validator
}

func NewLoader(dir string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{dir: dir, validator: validator}, nil
}

// Dir returns the recipe directory (macro files resolve relative to it).
func (l *Loader) Dir() string {
	return l.dir
}

// List returns the names of all recipe files in the directory.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recipes dir: %w", err)
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		seen[strings.TrimSuffix(entry.Name(), ext)] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads, schema-validates and parses a named recipe.
func (l *Loader) Load(name string) (Recipe, error) {
	data, err := l.readFile(name)
	if err != nil {
		return Recipe{}, err
	}

	if err := l.validator.ValidateRecipe(data); err != nil {
		return Recipe{}, fmt.Errorf("recipe %q: %w", name, err)
	}

	var raw rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Recipe{}, fmt.Errorf("recipe %q: invalid YAML: %w", name, err)
	}

	recipe, err := buildRecipe(name, raw)
	if err != nil {
		return Recipe{}, err
	}
	if err := recipe.Validate(); err != nil {
		return Recipe{}, err
	}
	return recipe, nil
}

func (l *Loader) readFile(name string) ([]byte, error) {
	candidates := []string{
		filepath.Join(l.dir, name+".yml"),
		filepath.Join(l.dir, name+".yaml"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read recipe file %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("recipe %q not found in %s", name, l.dir)
}

func buildRecipe(name string, raw rawRecipe) (Recipe, error) {
	macros, err := parseMacros(raw.MotionMacros)
	if err != nil {
		return Recipe{}, fmt.Errorf("recipe %q: %w", name, err)
	}

	description := raw.Metadata.Description
	if description == "" {
		description = fmt.Sprintf("Recipe %s", name)
	}

	confirm := raw.Polishing.Contact.Confirm
	if confirm == 0 {
		confirm = 1
	}

	return Recipe{
		Name:        name,
		Description: description,
		SafeZMM:     raw.Motion.SafeZMM,
		PickupMacro: raw.Motion.PickupMacro,
		PlaceMacro:  raw.Motion.PlaceMacro,
		Macros:      macros,
		Waveform: Waveform{
			CenterOffsetMM: raw.Polishing.Waveform.CenterOffsetMM,
			AmplitudeMM:    raw.Polishing.Waveform.AmplitudeMM,
			Period:         seconds(raw.Polishing.Waveform.PeriodS),
		},
		Cycle: Cycle{
			Mode:          CycleMode(raw.Polishing.Cycle.Mode),
			Duration:      seconds(raw.Polishing.Cycle.DurationS),
			Count:         raw.Polishing.Cycle.Count,
			TargetChargeC: raw.Polishing.Cycle.TargetChargeC,
		},
		Contact: Contact{
			StepMM:      raw.Polishing.Contact.StepMM,
			ThresholdMA: raw.Polishing.Contact.ThresholdMA,
			Confirm:     confirm,
			MaxDepthMM:  raw.Polishing.Contact.MaxDepthMM,
			RetractMM:   raw.Polishing.Contact.RetractMM,
			Settle:      time.Duration(raw.Polishing.Contact.SettleMS) * time.Millisecond,
		},
		Separation: Separation{
			DropMA: raw.Separation.DropMA,
			Window: seconds(raw.Separation.WindowS),
		},
		Cleaning: Cleaning{
			Rinse: seconds(raw.Cleaning.RinseS),
		},
		Imaging: Imaging{
			ThresholdUm:   raw.Imaging.ThresholdUm,
			Interval:      seconds(raw.Imaging.IntervalS),
			MaxIterations: raw.Imaging.MaxIterations,
		},
		VoltageV:      raw.Polishing.VoltageV,
		CurrentLimitA: raw.Polishing.CurrentLimitA,
	}, nil
}

// parseMacros accepts either a mapping with file/description keys or the
// string shorthand "name: path/to/file.gcode".
func parseMacros(nodes map[string]yaml.Node) (map[string]Macro, error) {
	macros := make(map[string]Macro, len(nodes))
	for name, node := range nodes {
		switch node.Kind {
		case yaml.ScalarNode:
			var file string
			if err := node.Decode(&file); err != nil {
				return nil, fmt.Errorf("invalid motion macro %q: %w", name, err)
			}
			macros[name] = Macro{Name: name, File: file}
		case yaml.MappingNode:
			var m Macro
			if err := node.Decode(&m); err != nil {
				return nil, fmt.Errorf("invalid motion macro %q: %w", name, err)
			}
			m.Name = name
			macros[name] = m
		default:
			return nil, fmt.Errorf("invalid motion macro definition for %q", name)
		}
	}
	return macros, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
