package motion

import "testing"

func TestParseStatus(t *testing.T) {
	status, err := parseStatus("<Idle|MPos:10.000,0.000,-2.500|FS:0,0>")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != "Idle" || !status.idle() {
		t.Errorf("state = %q", status.State)
	}
	if !status.HasPos {
		t.Fatal("expected a machine position")
	}
	want := Position{X: 10, Y: 0, Z: -2.5}
	if status.MPos != want {
		t.Errorf("mpos = %+v, want %+v", status.MPos, want)
	}
}

func TestParseStatusSubState(t *testing.T) {
	status, err := parseStatus("<Hold:0|MPos:1.000,2.000,3.000>")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != "Hold" {
		t.Errorf("state = %q", status.State)
	}
	if status.idle() {
		t.Error("Hold must not report idle")
	}
}

func TestParseStatusWithoutPosition(t *testing.T) {
	status, err := parseStatus("<Run|FS:500,0>")
	if err != nil {
		t.Fatal(err)
	}
	if status.HasPos {
		t.Error("no MPos field, yet HasPos is set")
	}
}

func TestParseStatusRejectsGarbage(t *testing.T) {
	for _, line := range []string{"ok", "<>", "<Idle|MPos:1.0,2.0>", "error:9"} {
		if _, err := parseStatus(line); err == nil {
			t.Errorf("parseStatus(%q) accepted garbage", line)
		}
	}
}

func TestGcodeFormatting(t *testing.T) {
	if got := gcodeLinearZ(28.5, 60); got != "G1 Z28.500 F60.0" {
		t.Errorf("gcodeLinearZ = %q", got)
	}
	if got := gcodeLinearXY(112.5, 48, 600); got != "G1 X112.500 Y48.000 F600.0" {
		t.Errorf("gcodeLinearXY = %q", got)
	}
	if got := gcodeLinearRelative(0, 0, -0.2, 60); got != "G1 Z-0.200 F60.0" {
		t.Errorf("gcodeLinearRelative = %q", got)
	}
}
