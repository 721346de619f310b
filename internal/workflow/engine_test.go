package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/sensors"
	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/vision"
	"github.com/ferralab/prepcore/internal/workflow"
)

// stubMotion records every commanded move and tracks the commanded
// position. An optional per-command delay simulates travel time.
type stubMotion struct {
	mu    sync.Mutex
	pos   motion.Position
	moves []string
	zs    []float64
	delay time.Duration
}

func (m *stubMotion) settle(ctx context.Context) error {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

func (m *stubMotion) MoveAbsolute(ctx context.Context, pos motion.Position, feed float64) error {
	if err := m.settle(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.pos = pos
	m.moves = append(m.moves, fmt.Sprintf("abs %.2f,%.2f,%.2f", pos.X, pos.Y, pos.Z))
	m.mu.Unlock()
	return nil
}

func (m *stubMotion) MoveXY(ctx context.Context, x, y, feed float64) error {
	if err := m.settle(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.pos.X, m.pos.Y = x, y
	m.moves = append(m.moves, fmt.Sprintf("xy %.2f,%.2f", x, y))
	m.mu.Unlock()
	return nil
}

func (m *stubMotion) MoveZ(ctx context.Context, z, feed float64) error {
	if err := m.settle(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.pos.Z = z
	m.moves = append(m.moves, fmt.Sprintf("z %.2f", z))
	m.zs = append(m.zs, z)
	m.mu.Unlock()
	return nil
}

func (m *stubMotion) MoveRelative(ctx context.Context, dx, dy, dz, feed float64) error {
	if err := m.settle(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.pos.X += dx
	m.pos.Y += dy
	m.pos.Z += dz
	m.moves = append(m.moves, "rel")
	m.mu.Unlock()
	return nil
}

func (m *stubMotion) RunMacro(ctx context.Context, name string, lines []string) error {
	if err := m.settle(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.moves = append(m.moves, "macro "+name)
	m.mu.Unlock()
	return nil
}

func (m *stubMotion) Position(ctx context.Context) (motion.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

func (m *stubMotion) z() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.Z
}

func (m *stubMotion) moveLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.moves...)
}

func (m *stubMotion) minZ() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := m.zs[0]
	for _, z := range m.zs {
		if z < min {
			min = z
		}
	}
	return min
}

func (m *stubMotion) hasZ(z float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.zs {
		if got == z {
			return true
		}
	}
	return false
}

// stubPower reports contact current whenever the stage sits at or below
// contactZ, mimicking a tip entering the electrolyte. The first spikes
// readings report current regardless of depth.
type stubPower struct {
	motion    *stubMotion
	contactZ  float64
	contactMA float64
	spikes    int
}

func (p *stubPower) SetVoltage(ctx context.Context, volts float64) error      { return nil }
func (p *stubPower) SetCurrentLimit(ctx context.Context, amps float64) error  { return nil }
func (p *stubPower) Enable(ctx context.Context, on bool) error                { return nil }
func (p *stubPower) MeasureVoltage(ctx context.Context) (float64, error)      { return 12, nil }

func (p *stubPower) MeasureCurrent(ctx context.Context) (float64, error) {
	if p.spikes > 0 {
		p.spikes--
		return p.contactMA / 1000, nil
	}
	if p.contactMA > 0 && p.motion.z() <= p.contactZ {
		return p.contactMA / 1000, nil
	}
	return 0, nil
}

type stubSensors struct {
	mu       sync.Mutex
	currentA float64
}

func (s *stubSensors) LatestCurrent() sensors.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sensors.Reading{At: time.Now(), Value: s.currentA}
}
func (s *stubSensors) LatestVoltage() sensors.Reading     { return sensors.Reading{Value: 12} }
func (s *stubSensors) LatestTemperature() sensors.Reading { return sensors.Reading{} }

func (s *stubSensors) setCurrent(amps float64) {
	s.mu.Lock()
	s.currentA = amps
	s.mu.Unlock()
}

type stubFrames struct{}

func (stubFrames) Capture(ctx context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 8, 8)), nil
}

// stubAnalyzer serves scripted widths, one per inspection; the last value
// repeats.
type stubAnalyzer struct {
	mu     sync.Mutex
	widths []float64
	idx    int
	calls  int
}

func (a *stubAnalyzer) Analyze(img image.Image) (vision.Measurement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.widths) == 0 {
		return vision.Measurement{}, vision.ErrNoMeasurableSection
	}
	i := a.idx
	if i >= len(a.widths) {
		i = len(a.widths) - 1
	}
	a.idx++
	return vision.Measurement{MinWidthPx: a.widths[i], Row: 4}, nil
}

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubRecipes struct {
	dir string
	rec recipe.Recipe
}

func (s *stubRecipes) Load(name string) (recipe.Recipe, error) {
	if name != s.rec.Name {
		return recipe.Recipe{}, fmt.Errorf("recipe %q not found", name)
	}
	return s.rec, nil
}

func (s *stubRecipes) Dir() string { return s.dir }

// memRecorder collects transition events in order.
type memRecorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *memRecorder) JobEnqueued(ctx context.Context, job workflow.JobView) error { return nil }

func (r *memRecorder) JobTransition(ctx context.Context, job workflow.JobView, event workflow.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) all() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Event(nil), r.events...)
}

type countingSink struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (s *countingSink) Append(sample telemetry.Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

const (
	testBeakerZ = 30.0
	testSafeZ   = 60.0
)

func testRecipe(t *testing.T) recipe.Recipe {
	t.Helper()
	return recipe.Recipe{
		Name:        "bench",
		SafeZMM:     testSafeZ,
		PickupMacro: "pickup",
		PlaceMacro:  "place",
		Macros: map[string]recipe.Macro{
			"pickup": {Name: "pickup", File: "pickup.gcode"},
			"place":  {Name: "place", File: "place.gcode"},
		},
		Waveform: recipe.Waveform{AmplitudeMM: 0.5, Period: 40 * time.Millisecond},
		Cycle:    recipe.Cycle{Mode: recipe.ModeTime, Duration: 80 * time.Millisecond},
		Contact: recipe.Contact{
			StepMM:      0.5,
			ThresholdMA: 2,
			Confirm:     1,
			MaxDepthMM:  2,
			RetractMM:   0.2,
		},
		Imaging:       recipe.Imaging{ThresholdUm: 5, MaxIterations: 3},
		VoltageV:      12,
		CurrentLimitA: 0.5,
	}
}

func testCalibration(outputs int) recipe.Calibration {
	cal := recipe.Calibration{
		MicronsPerPixel: 1,
		Beaker:          [3]float64{100, 50, testBeakerZ},
		CameraOffset:    [3]float64{-30, 0, 5},
		CleanImmersionZ: 20,
		Feeds:           recipe.Feeds{Rapid: 600, Approach: 60},
		Slots: []recipe.SlotDef{
			{ID: "in-1", Role: recipe.RoleInput, Position: [3]float64{20, 20, 12}, Specimen: "s1"},
			{ID: "in-2", Role: recipe.RoleInput, Position: [3]float64{20, 35, 12}, Specimen: "s2"},
			{ID: "in-empty", Role: recipe.RoleInput, Position: [3]float64{20, 50, 12}},
		},
	}
	for i := 0; i < outputs; i++ {
		cal.Slots = append(cal.Slots, recipe.SlotDef{
			ID:       fmt.Sprintf("out-%d", i+1),
			Role:     recipe.RoleOutput,
			Position: [3]float64{180, 20 + 15*float64(i), 12},
		})
	}
	return cal
}

type harness struct {
	engine   *workflow.Engine
	motion   *stubMotion
	power    *stubPower
	sensors  *stubSensors
	analyzer *stubAnalyzer
	recorder *memRecorder
	sink     *countingSink
}

func newHarness(t *testing.T, rec recipe.Recipe, cal recipe.Calibration) *harness {
	t.Helper()
	return newHarnessLogger(t, rec, cal, zap.NewNop())
}

func newHarnessLogger(t *testing.T, rec recipe.Recipe, cal recipe.Calibration, logger *zap.Logger) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, name := range []string{"pickup.gcode", "place.gcode"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("G90\nG1 Z14 F120\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stage := &stubMotion{pos: motion.Position{Z: testSafeZ}}
	power := &stubPower{motion: stage, contactZ: testBeakerZ - 1.4, contactMA: 5}
	sense := &stubSensors{currentA: 0.004}
	analyzer := &stubAnalyzer{widths: []float64{4}}
	recorder := &memRecorder{}
	sink := &countingSink{}

	engine, err := workflow.New(workflow.Settings{
		DefaultRecipe:     rec.Name,
		SampleInterval:    50 * time.Millisecond,
		MoveTimeout:       5 * time.Second,
		MacroTimeout:      5 * time.Second,
		ImageTimeout:      time.Second,
		SeparationCadence: 10 * time.Millisecond,
		BaselineWindow:    4,
	}, workflow.Deps{
		Motion:      stage,
		Power:       power,
		Sensors:     sense,
		Frames:      stubFrames{},
		Analyzer:    analyzer,
		Recipes:     &stubRecipes{dir: dir, rec: rec},
		Calibration: cal,
		Recorder:    recorder,
		Sink:        sink,
		Logger:      logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &harness{
		engine:   engine,
		motion:   stage,
		power:    power,
		sensors:  sense,
		analyzer: analyzer,
		recorder: recorder,
		sink:     sink,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.engine.Start()
	t.Cleanup(h.engine.Stop)
}

func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) workflow.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.engine.Job(id)
		if err != nil {
			t.Fatal(err)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return workflow.JobView{}
}

func TestEnqueuePreconditions(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))

	cases := []struct {
		name string
		slot string
	}{
		{"unknown slot", "nope"},
		{"output slot", "out-1"},
		{"empty slot", "in-empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Enqueue(tc.slot, "")
			var pre *workflow.PreconditionError
			if !errors.As(err, &pre) {
				t.Fatalf("expected PreconditionError, got %v", err)
			}
		})
	}
}

func TestEnqueueRejectsBusySlot(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))

	if _, err := h.engine.Enqueue("in-1", ""); err != nil {
		t.Fatal(err)
	}
	_, err := h.engine.Enqueue("in-1", "")
	var pre *workflow.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected PreconditionError for busy slot, got %v", err)
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s: %s)", job.State, job.Reason, job.Err)
	}
	if job.DestSlot != "out-1" {
		t.Fatalf("expected first output slot, got %q", job.DestSlot)
	}

	// Contact sits 1.4mm below the approach start; at 0.5mm steps the
	// third step (1.5mm) is the first at contact depth.
	if job.PolishZero == nil {
		t.Fatal("expected a polish zero")
	}
	wantZero := testBeakerZ - 3*0.5
	if *job.PolishZero != wantZero {
		t.Fatalf("polish zero = %.2f, want %.2f", *job.PolishZero, wantZero)
	}

	slots := slotsByID(h.engine.Slots())
	if slots["in-1"].Specimen != "" {
		t.Fatalf("source slot still holds %q", slots["in-1"].Specimen)
	}
	if slots["out-1"].Specimen != "s1" {
		t.Fatalf("output slot holds %q, want s1", slots["out-1"].Specimen)
	}

	if got := h.motion.z(); got != testSafeZ {
		t.Fatalf("final Z = %.2f, want safe height %.2f", got, testSafeZ)
	}
}

func TestInspectionHeightTracksContactZero(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)
	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}

	// The camera Z offset applies to the confirmed zero (28.5), not the
	// nominal beaker height; a deep-sitting specimen must stay in frame.
	wantInspect := testBeakerZ - 3*0.5 + 5
	if !h.motion.hasZ(wantInspect) {
		t.Fatalf("never commanded inspection height %.2f", wantInspect)
	}
	if nominal := testBeakerZ + 5; h.motion.hasZ(nominal) {
		t.Fatalf("inspection used the nominal beaker height %.2f", nominal)
	}
}

func TestNoContactFailsAfterFullDepth(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	h.power.contactMA = 0 // never any current
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateFailed || job.Reason != workflow.ReasonNoContact {
		t.Fatalf("expected Failed/no_contact, got %s/%s", job.State, job.Reason)
	}

	// max_depth 2.0 at 0.5 steps is exactly 4 approach steps.
	wantDeepest := testBeakerZ - 2.0
	if got := h.motion.minZ(); got != wantDeepest {
		t.Fatalf("deepest commanded Z = %.2f, want %.2f", got, wantDeepest)
	}
	if got := h.motion.z(); got != testSafeZ {
		t.Fatalf("expected recovery retract to %.2f, at %.2f", testSafeZ, got)
	}

	// The failed specimen stays in its slot until acknowledged.
	slots := slotsByID(h.engine.Slots())
	if slots["in-1"].Specimen != "s1" {
		t.Fatal("source slot should stay occupied after failure")
	}
	if err := h.engine.Acknowledge(id); err != nil {
		t.Fatal(err)
	}
	slots = slotsByID(h.engine.Slots())
	if slots["in-1"].Specimen != "" {
		t.Fatal("acknowledge should free the source slot")
	}
}

func TestContactConfirmRejectsTransientSpike(t *testing.T) {
	rec := testRecipe(t)
	rec.Contact.Confirm = 2

	h := newHarness(t, rec, testCalibration(2))
	// The first reading flickers above threshold on the first step;
	// confirmation needs two in a row.
	h.power.spikes = 1
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}
	// A confirmed spike would have put the zero at the first step (29.5);
	// real contact is only sustained from the third step down.
	wantZero := testBeakerZ - 3*0.5
	if job.PolishZero == nil || *job.PolishZero != wantZero {
		t.Fatalf("polish zero = %v, want %.2f", job.PolishZero, wantZero)
	}
}

func TestChargeModeRejectedWithoutMotion(t *testing.T) {
	rec := testRecipe(t)
	rec.Cycle = recipe.Cycle{Mode: recipe.ModeCharge, TargetChargeC: 2}

	h := newHarness(t, rec, testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateFailed || job.Reason != workflow.ReasonUnsupportedConfig {
		t.Fatalf("expected Failed/unsupported_configuration, got %s/%s", job.State, job.Reason)
	}
	if moves := h.motion.moveLog(); len(moves) != 0 {
		t.Fatalf("expected zero motion commands, got %v", moves)
	}
}

func TestTimeModeEmitsExpectedSamples(t *testing.T) {
	rec := testRecipe(t)
	rec.Cycle = recipe.Cycle{Mode: recipe.ModeTime, Duration: 180 * time.Millisecond}

	h := newHarness(t, rec, testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)
	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}

	// ceil(180ms / 50ms) = 4 samples for the single polishing segment.
	if got := h.sink.count(); got != 4 {
		t.Fatalf("telemetry samples = %d, want 4", got)
	}
}

func TestTimeModeStopsAtDuration(t *testing.T) {
	rec := testRecipe(t)
	rec.Waveform = recipe.Waveform{AmplitudeMM: 0.5, Period: 400 * time.Millisecond}
	rec.Cycle = recipe.Cycle{Mode: recipe.ModeTime, Duration: 450 * time.Millisecond}

	h := newHarness(t, rec, testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)
	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}

	var began, ended time.Time
	for _, ev := range h.recorder.all() {
		if ev.To == workflow.StatePolishing && began.IsZero() {
			began = ev.At
		}
		if ev.To == workflow.StateMovingToInspect && ended.IsZero() {
			ended = ev.At
		}
	}
	if began.IsZero() || ended.IsZero() {
		t.Fatal("missing polishing transitions")
	}

	// The final stroke's pad stops at the 450ms mark; rounding up to whole
	// half periods (200ms) would run the segment to 600ms.
	if got := ended.Sub(began); got > 520*time.Millisecond {
		t.Fatalf("polishing segment ran %v, want about 450ms", got)
	}
}

func TestPolishCompletionReportsRunSummary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newHarnessLogger(t, testRecipe(t), testCalibration(2), zap.New(core))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)
	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}

	entries := logs.FilterMessage("polishing segment finished").All()
	if len(entries) == 0 {
		t.Fatal("no polishing completion entry logged")
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"elapsed", "cycles", "samples", "z_mm"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("completion entry missing %q: %v", key, fields)
		}
	}
}

func TestThicknessEndpointIterations(t *testing.T) {
	rec := testRecipe(t)
	rec.Imaging = recipe.Imaging{ThresholdUm: 5, MaxIterations: 6}

	h := newHarness(t, rec, testCalibration(2))
	h.analyzer.widths = []float64{12, 8, 4}
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}
	if len(job.Measurements) != 3 {
		t.Fatalf("measurements = %d, want 3", len(job.Measurements))
	}
	for i, m := range job.Measurements {
		if m.Iteration != i+1 {
			t.Fatalf("measurement %d has iteration %d", i, m.Iteration)
		}
	}
	if last := job.Measurements[2]; last.WidthUm != 4 {
		t.Fatalf("final width = %.1f um, want 4", last.WidthUm)
	}
}

func TestThicknessBudgetExhausted(t *testing.T) {
	rec := testRecipe(t)
	rec.Imaging = recipe.Imaging{ThresholdUm: 5, MaxIterations: 3}

	h := newHarness(t, rec, testCalibration(2))
	h.analyzer.widths = []float64{12, 11, 10}
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateFailed || job.Reason != workflow.ReasonThicknessNotReached {
		t.Fatalf("expected Failed/thickness_not_reached, got %s/%s", job.State, job.Reason)
	}
	if len(job.Measurements) != 3 {
		t.Fatalf("measurements = %d, want 3", len(job.Measurements))
	}
}

func TestImagingFailureAfterRetry(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	h.analyzer.widths = nil // every frame comes back unmeasurable
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateFailed || job.Reason != workflow.ReasonImagingFailure {
		t.Fatalf("expected Failed/imaging_failure, got %s/%s", job.State, job.Reason)
	}
	// One immediate re-capture, then the job fails.
	if got := h.analyzer.callCount(); got != 2 {
		t.Fatalf("analyzer calls = %d, want 2", got)
	}
	if got := h.motion.z(); got != testSafeZ {
		t.Fatalf("expected recovery retract to %.2f, at %.2f", testSafeZ, got)
	}
}

func TestJobsRunFIFOWithoutInterleaving(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	h.start(t)

	first, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.engine.Enqueue("in-2", "")
	if err != nil {
		t.Fatal(err)
	}

	h.waitTerminal(t, first)
	job2 := h.waitTerminal(t, second)
	if job2.State != workflow.StateDone {
		t.Fatalf("second job: expected Done, got %s (%s)", job2.State, job2.Err)
	}

	events := h.recorder.all()
	firstDone := -1
	secondStarted := -1
	for i, ev := range events {
		if ev.JobID == first && ev.To == workflow.StateDone {
			firstDone = i
		}
		if ev.JobID == second && ev.To == workflow.StateMovingToPickup {
			secondStarted = i
		}
	}
	if firstDone < 0 || secondStarted < 0 {
		t.Fatalf("missing transitions: done=%d started=%d", firstDone, secondStarted)
	}
	if secondStarted < firstDone {
		t.Fatal("second job started moving before the first finished")
	}
}

func TestCancelPendingJob(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	// Engine not started: the job stays queued.

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Cancel(id); err != nil {
		t.Fatal(err)
	}

	job, err := h.engine.Job(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != workflow.StateAborted {
		t.Fatalf("expected Aborted, got %s", job.State)
	}
	if moves := h.motion.moveLog(); len(moves) != 0 {
		t.Fatalf("cancelled pending job moved the stage: %v", moves)
	}

	slots := slotsByID(h.engine.Slots())
	if slots["in-1"].Specimen != "s1" {
		t.Fatal("aborted job should leave the specimen in place")
	}
	if err := h.engine.Acknowledge(id); err != nil {
		t.Fatal(err)
	}
}

func TestCancelRunningJobAbortsAtSafeHeight(t *testing.T) {
	rec := testRecipe(t)
	rec.Cycle = recipe.Cycle{Mode: recipe.ModeTime, Duration: 5 * time.Second}

	h := newHarness(t, rec, testCalibration(2))
	h.motion.delay = 2 * time.Millisecond
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}

	// Wait until the job is polishing, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := h.engine.Job(id)
		if err != nil {
			t.Fatal(err)
		}
		if job.State == workflow.StatePolishing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached polishing, state %s", job.State)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := h.engine.Cancel(id); err != nil {
		t.Fatal(err)
	}

	job := h.waitTerminal(t, id)
	if job.State != workflow.StateAborted {
		t.Fatalf("expected Aborted, got %s (%s)", job.State, job.Err)
	}
	if got := h.motion.z(); got < testSafeZ {
		t.Fatalf("aborted below safe height: %.2f", got)
	}
}

func TestSeparationTimeoutProceedsToCleaning(t *testing.T) {
	rec := testRecipe(t)
	rec.Separation = recipe.Separation{DropMA: 1.5, Window: 100 * time.Millisecond}

	h := newHarness(t, rec, testCalibration(2))
	// Constant current: no drop is ever observed.
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateDone {
		t.Fatalf("expected Done despite missed separation, got %s (%s)", job.State, job.Err)
	}
	if job.Reason != workflow.ReasonSeparationTimeout {
		t.Fatalf("expected separation_timeout noted on the job, got %q", job.Reason)
	}

	sawCleaning := false
	for _, ev := range h.recorder.all() {
		if ev.To == workflow.StateCleaning {
			sawCleaning = true
		}
	}
	if !sawCleaning {
		t.Fatal("job skipped the cleaning state")
	}
}

func TestSeparationDetectedByCurrentDrop(t *testing.T) {
	rec := testRecipe(t)
	rec.Separation = recipe.Separation{DropMA: 1.5, Window: 5 * time.Second}

	h := newHarness(t, rec, testCalibration(2))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}

	// Let the watcher build a 4mA baseline, then drop the cell current as a
	// detaching wire would.
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := h.engine.Job(id)
		if err != nil {
			t.Fatal(err)
		}
		if job.State == workflow.StateSeekingSeparation {
			break
		}
		if job.State.Terminal() {
			t.Fatalf("job ended early: %s (%s)", job.State, job.Err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never sought separation, state %s", job.State)
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	h.sensors.setCurrent(0.0005)

	job := h.waitTerminal(t, id)
	if job.State != workflow.StateDone {
		t.Fatalf("expected Done, got %s (%s)", job.State, job.Err)
	}
	if job.Reason == workflow.ReasonSeparationTimeout {
		t.Fatal("current drop went undetected within the window")
	}
}

func TestNoFreeOutputSlotFailsJob(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(0))
	h.start(t)

	id, err := h.engine.Enqueue("in-1", "")
	if err != nil {
		t.Fatal(err)
	}
	job := h.waitTerminal(t, id)

	if job.State != workflow.StateFailed || job.Reason != workflow.ReasonNoOutputSlot {
		t.Fatalf("expected Failed/no_output_slot, got %s/%s", job.State, job.Reason)
	}
}

func TestSnapshotIsRepeatable(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))

	a := h.engine.Snapshot()
	b := h.engine.Snapshot()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("snapshots differ: %+v vs %+v", a, b)
	}
	if a.State != workflow.StateIdle {
		t.Fatalf("idle engine reports state %s", a.State)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	h := newHarness(t, testRecipe(t), testCalibration(2))
	ch := h.engine.Subscribe()
	defer h.engine.Unsubscribe(ch)
	h.start(t)

	if _, err := h.engine.Enqueue("in-1", ""); err != nil {
		t.Fatal(err)
	}

	// Consume while the job runs so the buffered channel never lags.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.To == workflow.StateDone {
				return
			}
		case <-deadline:
			t.Fatal("never observed the Done transition")
		}
	}
}

func slotsByID(slots []workflow.SlotView) map[string]workflow.SlotView {
	out := make(map[string]workflow.SlotView, len(slots))
	for _, s := range slots {
		out[s.ID] = s
	}
	return out
}
