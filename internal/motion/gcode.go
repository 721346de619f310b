package motion

import (
	"fmt"
	"strconv"
	"strings"
)

// G-code formatting and status parsing for GRBL/FluidNC-class controllers.

const (
	gcodeAbsolute = "G90"
	gcodeRelative = "G91"
)

func gcodeLinearXYZ(p Position, feed float64) string {
	return fmt.Sprintf("G1 X%.3f Y%.3f Z%.3f F%.1f", p.X, p.Y, p.Z, feed)
}

func gcodeLinearXY(x, y, feed float64) string {
	return fmt.Sprintf("G1 X%.3f Y%.3f F%.1f", x, y, feed)
}

func gcodeLinearZ(z, feed float64) string {
	return fmt.Sprintf("G1 Z%.3f F%.1f", z, feed)
}

func gcodeLinearRelative(dx, dy, dz, feed float64) string {
	parts := []string{"G1"}
	if dx != 0 {
		parts = append(parts, fmt.Sprintf("X%.3f", dx))
	}
	if dy != 0 {
		parts = append(parts, fmt.Sprintf("Y%.3f", dy))
	}
	if dz != 0 {
		parts = append(parts, fmt.Sprintf("Z%.3f", dz))
	}
	parts = append(parts, fmt.Sprintf("F%.1f", feed))
	return strings.Join(parts, " ")
}

// machineStatus is the parsed form of a GRBL angle-bracket status report,
// e.g. "<Idle|MPos:10.000,0.000,-2.500|FS:0,0>".
type machineStatus struct {
	State string
	MPos  Position
	HasPos bool
}

func parseStatus(line string) (machineStatus, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "<") || !strings.HasSuffix(trimmed, ">") {
		return machineStatus{}, fmt.Errorf("not a status report: %q", line)
	}
	body := trimmed[1 : len(trimmed)-1]

	fields := strings.Split(body, "|")
	if len(fields) == 0 || fields[0] == "" {
		return machineStatus{}, fmt.Errorf("empty status report: %q", line)
	}

	// State may carry a sub-state such as "Hold:0".
	status := machineStatus{State: strings.SplitN(fields[0], ":", 2)[0]}

	for _, field := range fields[1:] {
		if !strings.HasPrefix(field, "MPos:") {
			continue
		}
		coords := strings.Split(strings.TrimPrefix(field, "MPos:"), ",")
		if len(coords) < 3 {
			return machineStatus{}, fmt.Errorf("short MPos field: %q", field)
		}
		vals := make([]float64, 3)
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(coords[i]), 64)
			if err != nil {
				return machineStatus{}, fmt.Errorf("bad MPos coordinate %q: %w", coords[i], err)
			}
			vals[i] = v
		}
		status.MPos = Position{X: vals[0], Y: vals[1], Z: vals[2]}
		status.HasPos = true
	}

	return status, nil
}

func (s machineStatus) idle() bool {
	return s.State == "Idle"
}
