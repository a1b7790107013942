package coord

import (
	"math"
)

// Epsilon is the threshold below which a delta is treated as no motion.
const Epsilon = 1e-6

type Point struct{ X, Y float64 }

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	return p
}

// Neg returns the point mirrored through the origin.
func (p Point) Neg() Point {
	return Point{X: -p.X, Y: -p.Y}
}

// Clamp bounds each axis independently to [0, max].
func (p Point) Clamp(max Point) Point {
	p.X = math.Max(0, math.Min(p.X, max.X))
	p.Y = math.Max(0, math.Min(p.Y, max.Y))
	return p
}

// IsZero reports whether both axes are within Epsilon of zero.
func (p Point) IsZero() bool {
	return math.Abs(p.X) < Epsilon && math.Abs(p.Y) < Epsilon
}
