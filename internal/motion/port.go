package motion

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Position is a machine coordinate in millimetres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Port is the command surface of the positioning stage. Calls block until
// the motion completes or the context deadline expires. Feeds are mm/min.
type Port interface {
	MoveAbsolute(ctx context.Context, pos Position, feed float64) error
	MoveXY(ctx context.Context, x, y, feed float64) error
	MoveZ(ctx context.Context, z, feed float64) error
	MoveRelative(ctx context.Context, dx, dy, dz, feed float64) error
	RunMacro(ctx context.Context, name string, lines []string) error
	Position(ctx context.Context) (Position, error)
}

// Error wraps a failed stage command with the operation that issued it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("motion %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether a motion error was caused by an expired
// deadline rather than a controller fault.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
