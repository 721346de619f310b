package motion

import (
	"context"
	"sync"
)

// Simulator is an in-process stage for bench-less runs. Moves complete
// immediately and only the commanded position is tracked.
type Simulator struct {
	mu  sync.Mutex
	pos Position
}

func NewSimulator(start Position) *Simulator {
	return &Simulator{pos: start}
}

func (s *Simulator) MoveAbsolute(ctx context.Context, pos Position, feed float64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "move_absolute", Err: err}
	}
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	return nil
}

func (s *Simulator) MoveXY(ctx context.Context, x, y, feed float64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "move_xy", Err: err}
	}
	s.mu.Lock()
	s.pos.X, s.pos.Y = x, y
	s.mu.Unlock()
	return nil
}

func (s *Simulator) MoveZ(ctx context.Context, z, feed float64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "move_z", Err: err}
	}
	s.mu.Lock()
	s.pos.Z = z
	s.mu.Unlock()
	return nil
}

func (s *Simulator) MoveRelative(ctx context.Context, dx, dy, dz, feed float64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "move_relative", Err: err}
	}
	s.mu.Lock()
	s.pos.X += dx
	s.pos.Y += dy
	s.pos.Z += dz
	s.mu.Unlock()
	return nil
}

func (s *Simulator) RunMacro(ctx context.Context, name string, lines []string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "macro " + name, Err: err}
	}
	return nil
}

func (s *Simulator) Position(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, &Error{Op: "position", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}
