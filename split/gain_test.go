package split

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGainSymmetricUnderExchange(t *testing.T) {
	p := GainParam[float64]{Lambda: 1.5, MinLeaf: 1}
	total := Scalar[float64]{G: 7}
	for _, leftG := range []float64{-3, 0, 2.5, 7} {
		left := Scalar[float64]{G: leftG}
		right := total.Sub(left)
		forward := Gain(left, 3, total, 10, p)
		backward := Gain(right, 7, total, 10, p)
		assert.InDelta(t, forward, backward, 1e-12, "left grad %v", leftG)
	}
}

func TestGainReducesToVarianceForm(t *testing.T) {
	// With min_leaf=1, min_hess=0, lambda=0 the score is the familiar
	// Gl^2/Hl + Gr^2/Hr - Gt^2/Ht.
	p := GainParam[float64]{MinLeaf: 1}
	left := Pair[float64]{G: -2, H: 3}
	total := Pair[float64]{G: 1, H: 8}
	right := total.Sub(left)
	want := left.G*left.G/left.H + right.G*right.G/right.H - total.G*total.G/total.H
	got := Gain(left, 4, total, 9, p)
	require.InDelta(t, want, got, 1e-12)
}

func TestGainMinLeafGuard(t *testing.T) {
	p := GainParam[float64]{MinLeaf: 3}
	total := Scalar[float64]{G: 4}
	assert.Zero(t, Gain(Scalar[float64]{G: -2}, 2, total, 10, p), "left side too small")
	assert.Zero(t, Gain(Scalar[float64]{G: -2}, 8, total, 10, p), "right side too small")
	assert.NotZero(t, Gain(Scalar[float64]{G: -2}, 5, total, 10, p))
}

func TestGainMinHessGuard(t *testing.T) {
	p := GainParam[float64]{MinLeaf: 1, MinHess: 1.0}
	total := Pair[float64]{G: 2, H: 5}
	// True side hessian below min_hess.
	assert.Zero(t, Gain(Pair[float64]{G: 1, H: 0.5}, 2, total, 8, p))
	// Complement hessian below min_hess.
	assert.Zero(t, Gain(Pair[float64]{G: 1, H: 4.5}, 2, total, 8, p))
	assert.NotZero(t, Gain(Pair[float64]{G: 2, H: 2.5}, 2, total, 8, p))
}

func TestGainScalarIgnoresMinHess(t *testing.T) {
	p := GainParam[float64]{MinLeaf: 1, MinHess: 100}
	total := Scalar[float64]{G: 2}
	assert.NotZero(t, Gain(Scalar[float64]{G: -1}, 2, total, 4, p))
}

func TestSignShrink(t *testing.T) {
	assert.Equal(t, 2.0, SignShrink(3.0, 1.0))
	assert.Equal(t, -2.0, SignShrink(-3.0, 1.0))
	assert.Zero(t, SignShrink(0.5, 1.0))
	assert.Zero(t, SignShrink(-0.5, 1.0))
	assert.Equal(t, 3.0, SignShrink(3.0, 0.0))
}

func TestWeight(t *testing.T) {
	// Gradient-only: w = -G / (count + lambda).
	p := GainParam[float64]{Lambda: 1}
	w := Weight(Scalar[float64]{G: -6}, 2, p)
	assert.InDelta(t, 2.0, w, 1e-12)

	// With hessian: w = -G / (H + lambda), L1 shrink applied first.
	p = GainParam[float64]{Lambda: 0, Alpha: 1}
	w = Weight(Pair[float64]{G: 3, H: 4}, 10, p)
	assert.InDelta(t, -0.5, w, 1e-12)
}

func TestElementFinite(t *testing.T) {
	assert.True(t, Scalar[float32]{G: 1}.Finite())
	assert.False(t, Scalar[float64]{G: math.Inf(1)}.Finite())
	assert.False(t, Pair[float64]{G: 0, H: math.NaN()}.Finite())
}
