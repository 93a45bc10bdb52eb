package split

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Element is the gradient aggregate flowing through the split finder. Two
// shapes exist: Scalar carries a first-order gradient only (squared-error
// objectives), Pair carries gradient plus hessian (logistic, softmax). Both
// come in float32 and float64 accumulator precision, selected once per
// trainer.
type Element[T any, F constraints.Float] interface {
	Add(T) T
	Sub(T) T

	// Grad returns the first-order component.
	Grad() F

	// Denom returns the regularization denominator for a side holding
	// count rows: the summed hessian for Pair, the row count for Scalar.
	Denom(count F) F

	// HessOK reports whether the side passes the min_child_weight guard.
	// Always true for Scalar.
	HessOK(minHess F) bool

	// Finite reports whether every component is a finite float.
	Finite() bool
}

// Scalar is a gradient-only aggregate.
type Scalar[F constraints.Float] struct {
	G F
}

func (s Scalar[F]) Add(o Scalar[F]) Scalar[F] { return Scalar[F]{G: s.G + o.G} }
func (s Scalar[F]) Sub(o Scalar[F]) Scalar[F] { return Scalar[F]{G: s.G - o.G} }
func (s Scalar[F]) Grad() F                   { return s.G }
func (s Scalar[F]) Denom(count F) F           { return count }
func (s Scalar[F]) HessOK(minHess F) bool     { return true }

func (s Scalar[F]) Finite() bool {
	return !math.IsInf(float64(s.G), 0) && !math.IsNaN(float64(s.G))
}

// Pair is a gradient+hessian aggregate.
type Pair[F constraints.Float] struct {
	G F
	H F
}

func (p Pair[F]) Add(o Pair[F]) Pair[F] { return Pair[F]{G: p.G + o.G, H: p.H + o.H} }
func (p Pair[F]) Sub(o Pair[F]) Pair[F] { return Pair[F]{G: p.G - o.G, H: p.H - o.H} }
func (p Pair[F]) Grad() F               { return p.G }
func (p Pair[F]) Denom(count F) F       { return p.H }

func (p Pair[F]) HessOK(minHess F) bool {
	h := p.H
	if h < 0 {
		h = -h
	}
	return h >= minHess
}

func (p Pair[F]) Finite() bool {
	return !math.IsInf(float64(p.G), 0) && !math.IsNaN(float64(p.G)) &&
		!math.IsInf(float64(p.H), 0) && !math.IsNaN(float64(p.H))
}
