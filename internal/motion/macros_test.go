package motion_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ferralab/prepcore/internal/motion"
)

func TestLoadMacroStripsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	content := "( Pick a holder )\nG90\n\n; inline note\nG1 Z14.0 F120\nM62 P0\n"
	if err := os.WriteFile(filepath.Join(dir, "pickup.gcode"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := motion.LoadMacro(dir, "pickup", "pickup.gcode")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"G90", "G1 Z14.0 F120", "M62 P0"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLoadMacroMissingFile(t *testing.T) {
	_, err := motion.LoadMacro(t.TempDir(), "ghost", "ghost.gcode")
	var macroErr *motion.MacroError
	if !errors.As(err, &macroErr) {
		t.Fatalf("expected MacroError, got %v", err)
	}
	if macroErr.Name != "ghost" {
		t.Errorf("macro name = %q", macroErr.Name)
	}
}

func TestLoadMacroRequiresFile(t *testing.T) {
	if _, err := motion.LoadMacro(t.TempDir(), "empty", ""); err == nil {
		t.Fatal("expected an error for a macro without a file")
	}
}

func TestSimulatorTracksCommandedPosition(t *testing.T) {
	sim := motion.NewSimulator(motion.Position{Z: 60})
	ctx := context.Background()

	if err := sim.MoveXY(ctx, 112.5, 48, 600); err != nil {
		t.Fatal(err)
	}
	if err := sim.MoveZ(ctx, 28.5, 60); err != nil {
		t.Fatal(err)
	}
	if err := sim.MoveRelative(ctx, 0, 0, 0.2, 60); err != nil {
		t.Fatal(err)
	}

	pos, err := sim.Position(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := motion.Position{X: 112.5, Y: 48, Z: 28.7}
	if pos.X != want.X || pos.Y != want.Y || pos.Z-want.Z > 1e-9 || want.Z-pos.Z > 1e-9 {
		t.Fatalf("position = %+v, want %+v", pos, want)
	}
}

func TestSimulatorHonorsCancelledContext(t *testing.T) {
	sim := motion.NewSimulator(motion.Position{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sim.MoveZ(ctx, 10, 60)
	var motionErr *motion.Error
	if !errors.As(err, &motionErr) {
		t.Fatalf("expected motion.Error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain, got %v", err)
	}
}
