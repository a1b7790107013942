// Package gantry tracks the gantry position and clamps every move to
// the mechanical envelope. It is the only code path to physical
// motion; nothing else may reach the raw move primitive.
package gantry

import (
	"sync"

	"github.com/gardenmech/waterbot/coord"
)

// A Mover issues a relative move and blocks until it completes.
type Mover interface {
	Move(dx, dy float64) error
}

// Limits describe the mechanical envelope; position is always kept
// within [0, MaxX] x [0, MaxY].
type Limits struct {
	MaxX, MaxY float64
}

// Safety wraps a Mover with dead-reckoned position tracking and
// boundary clamping. Position state is exclusively owned; the mutex
// covers only the clamp arithmetic, never the blocking serial
// exchange. Overlapping physical motion is prevented by the caller's
// motion flag, not here.
type Safety struct {
	mx    sync.Mutex
	pos   coord.Point
	lim   Limits
	mover Mover
}

func NewSafety(m Mover, lim Limits) *Safety {
	return &Safety{mover: m, lim: lim}
}

// Position returns the current tracked position.
func (s *Safety) Position() coord.Point {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.pos
}

// Move requests a relative delta and issues the clamped actual delta
// to the hardware. The returned point is the delta actually moved; a
// zero value means the gantry was already at the boundary and no
// command was sent (not an error).
//
// The tracked position is committed before the move is issued; an
// interrupted move therefore leaves the tracked position at the
// commanded target (dead reckoning, re-zeroed by homing).
func (s *Safety) Move(dx, dy float64) (coord.Point, error) {
	s.mx.Lock()
	target := s.pos.Add(coord.Point{X: dx, Y: dy}).Clamp(coord.Point{X: s.lim.MaxX, Y: s.lim.MaxY})
	actual := target.Sub(s.pos)
	s.pos = target
	s.mx.Unlock()

	if actual.IsZero() {
		return coord.Point{}, nil
	}
	err := s.mover.Move(actual.X, actual.Y)
	return actual, err
}

// Home moves straight back to (0,0) from the tracked position as a
// single move. Already-home is a no-op.
func (s *Safety) Home() error {
	s.mx.Lock()
	delta := s.pos.Neg()
	s.pos = coord.Point{}
	s.mx.Unlock()

	if delta.IsZero() {
		return nil
	}
	return s.mover.Move(delta.X, delta.Y)
}

// AtHome reports whether the tracked position is at the origin.
func (s *Safety) AtHome() bool {
	return s.Position().IsZero()
}
