package recipe_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ferralab/prepcore/internal/recipe"
)

const sampleRecipe = `
metadata:
  description: Bench recipe for loader tests
motion:
  safe_z_mm: 60
  pickup_macro: pickup
  place_macro: place
motion_macros:
  pickup: macros/pickup.gcode
  place:
    file: macros/place.gcode
    description: Lower and release
polishing:
  voltage_v: 12
  current_limit_a: 0.5
  waveform:
    center_offset_mm: -0.4
    amplitude_mm: 0.8
    period_s: 4
  contact:
    approach_step_mm: 0.2
    detection_current_ma: 2
    confirm_samples: 3
    max_depth_mm: 6
    retract_mm: 0.3
    settle_ms: 150
  cycle:
    mode: time
    duration_s: 90
separation:
  drop_ma: 1.5
  window_s: 120
cleaning:
  rinse_s: 10
imaging:
  threshold_um: 5
  interval_s: 2
  max_iterations: 6
`

func writeRecipe(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderParsesFullRecipe(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "bench.yaml", sampleRecipe)

	loader, err := recipe.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := loader.Load("bench")
	if err != nil {
		t.Fatal(err)
	}

	if rec.Name != "bench" {
		t.Errorf("name = %q", rec.Name)
	}
	if rec.SafeZMM != 60 {
		t.Errorf("safe z = %v", rec.SafeZMM)
	}
	if rec.Waveform.Period != 4*time.Second {
		t.Errorf("period = %v", rec.Waveform.Period)
	}
	if rec.Waveform.CenterOffsetMM != -0.4 {
		t.Errorf("center offset = %v", rec.Waveform.CenterOffsetMM)
	}
	if rec.Contact.Settle != 150*time.Millisecond {
		t.Errorf("settle = %v", rec.Contact.Settle)
	}
	if rec.Contact.Confirm != 3 {
		t.Errorf("confirm = %d", rec.Contact.Confirm)
	}
	if rec.Cycle.Mode != recipe.ModeTime || rec.Cycle.Duration != 90*time.Second {
		t.Errorf("cycle = %+v", rec.Cycle)
	}
	if rec.Separation.Window != 2*time.Minute {
		t.Errorf("separation window = %v", rec.Separation.Window)
	}
	if rec.Cleaning.Rinse != 10*time.Second {
		t.Errorf("rinse = %v", rec.Cleaning.Rinse)
	}
	if rec.Imaging.MaxIterations != 6 {
		t.Errorf("max iterations = %d", rec.Imaging.MaxIterations)
	}

	// Both macro notations resolve to the same shape.
	pickup, ok := rec.Macros["pickup"]
	if !ok || pickup.File != "macros/pickup.gcode" {
		t.Errorf("pickup macro = %+v", pickup)
	}
	place, ok := rec.Macros["place"]
	if !ok || place.File != "macros/place.gcode" || place.Description != "Lower and release" {
		t.Errorf("place macro = %+v", place)
	}
}

func TestLoaderAcceptsChargeMode(t *testing.T) {
	content := strings.Replace(sampleRecipe,
		"    mode: time\n    duration_s: 90\n",
		"    mode: charge\n    target_charge_c: 2\n", 1)

	dir := t.TempDir()
	writeRecipe(t, dir, "charge.yaml", content)

	loader, err := recipe.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := loader.Load("charge")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Cycle.Mode != recipe.ModeCharge {
		t.Fatalf("mode = %q", rec.Cycle.Mode)
	}
	if rec.Cycle.TargetChargeC != 2 {
		t.Fatalf("target charge = %v", rec.Cycle.TargetChargeC)
	}
}

func TestLoaderRejectsMissingSections(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "broken.yaml", "motion:\n  safe_z_mm: 60\n  pickup_macro: p\n  place_macro: q\n")

	loader, err := recipe.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load("broken"); err == nil {
		t.Fatal("expected schema validation to reject the recipe")
	}
}

func TestLoaderRejectsCountModeWithoutCount(t *testing.T) {
	content := strings.Replace(sampleRecipe,
		"    mode: time\n    duration_s: 90\n",
		"    mode: count\n", 1)

	dir := t.TempDir()
	writeRecipe(t, dir, "nocount.yaml", content)

	loader, err := recipe.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load("nocount"); err == nil {
		t.Fatal("expected count mode without a count to be rejected")
	}
}

func TestLoaderUnknownRecipe(t *testing.T) {
	loader, err := recipe.NewLoader(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load("ghost"); err == nil {
		t.Fatal("expected an error for a missing recipe")
	}
}

func TestLoaderList(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "b.yaml", sampleRecipe)
	writeRecipe(t, dir, "a.yml", sampleRecipe)
	writeRecipe(t, dir, "notes.txt", "not a recipe")

	loader, err := recipe.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	names, err := loader.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}
