package split

import (
	"golang.org/x/exp/constraints"
)

// GainParam is the subset of the tree parameters the gain evaluator and the
// leaf-weight computation consume.
type GainParam[F constraints.Float] struct {
	Lambda  F // L2 on leaf weights
	Alpha   F // L1 on leaf weights
	MinHess F // min_child_weight
	MinLeaf int
}

// quad is the regularized quadratic q(G) = G*G / (denom + lambda).
func quad[F constraints.Float, T Element[T, F]](v T, count int, lambda F) F {
	g := v.Grad()
	return g * g / (v.Denom(F(count)) + lambda)
}

// Gain computes the regularized split gain for a candidate that sends
// leftCount rows with aggregate left to the left child, out of totalCount
// rows with aggregate total:
//
//	score = q(left) + q(total-left) - q(total)
//
// A candidate violating the min_leaf or min_child_weight guards scores 0.
// The score is symmetric under exchanging the two sides.
func Gain[F constraints.Float, T Element[T, F]](left T, leftCount int, total T, totalCount int, p GainParam[F]) F {
	rightCount := totalCount - leftCount
	if leftCount < p.MinLeaf || rightCount < p.MinLeaf {
		return 0
	}
	right := total.Sub(left)
	if !left.HessOK(p.MinHess) || !right.HessOK(p.MinHess) {
		return 0
	}
	return quad[F](left, leftCount, p.Lambda) +
		quad[F](right, rightCount, p.Lambda) -
		quad[F](total, totalCount, p.Lambda)
}

// SignShrink is the L1 soft-threshold sgn(g) * max(|g|-alpha, 0).
func SignShrink[F constraints.Float](g, alpha F) F {
	if g > alpha {
		return g - alpha
	}
	if g < -alpha {
		return g + alpha
	}
	return 0
}

// Weight computes the optimal leaf weight -shrink(G, alpha) / (H + lambda)
// for a leaf holding count rows with aggregate sum. For Scalar aggregates H
// is the row count. The learning rate is applied by the caller.
func Weight[F constraints.Float, T Element[T, F]](sum T, count int, p GainParam[F]) F {
	num := SignShrink(sum.Grad(), p.Alpha)
	if num == 0 {
		// Covers the empty leaves behind degenerate splits, where the
		// denominator can also be zero.
		return 0
	}
	return -num / (sum.Denom(F(count)) + p.Lambda)
}
