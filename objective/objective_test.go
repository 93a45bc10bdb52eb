package objective

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudotensor/arboretum/split"
)

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{
		"reg:linear":      LinearRegression,
		"linear":          LinearRegression,
		"binary:logistic": LogisticRegression,
		"multi:softmax":   SoftMaxOneVsAll,
	} {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("rank:pairwise")
	assert.Error(t, err)
}

func TestLinearRoundTrip(t *testing.T) {
	o := Linear[float32]{}
	for _, y := range []float32{-3.5, 0, 1, 42} {
		got := o.FromInternal([]float32{o.IntoInternal(y)})
		assert.Equal(t, y, got[0])
	}
}

func TestLogisticRoundTrip(t *testing.T) {
	o := Logistic[float32]{}
	for _, y := range []float32{0.1, 0.25, 0.5, 0.9} {
		got := o.FromInternal([]float32{o.IntoInternal(y)})
		assert.InDelta(t, float64(y), float64(got[0]), 1e-6)
	}
	// Hard labels saturate through the logit but come back exact.
	for _, y := range []float32{0, 1} {
		got := o.FromInternal([]float32{o.IntoInternal(y)})
		assert.Equal(t, y, got[0])
	}
}

func TestLinearGradIsResidual(t *testing.T) {
	o := Linear[float64]{}
	grads := make([]split.Scalar[float64], 3)
	o.UpdateGrad(grads, []float32{1, 2, 3}, []float32{2, 2, 2})
	assert.InDelta(t, 1.0, grads[0].G, 1e-6)
	assert.InDelta(t, 0.0, grads[1].G, 1e-6)
	assert.InDelta(t, -1.0, grads[2].G, 1e-6)
}

func TestLogisticGrad(t *testing.T) {
	o := Logistic[float64]{}
	grads := make([]split.Pair[float64], 2)
	labels := []float32{o.IntoInternal(0), o.IntoInternal(1)}
	o.UpdateGrad(grads, labels, []float32{0, 0})
	// At margin 0: p = 0.5, so g = 0.5 - y, h = 0.25.
	assert.InDelta(t, 0.5, grads[0].G, 1e-6)
	assert.InDelta(t, -0.5, grads[1].G, 1e-6)
	assert.InDelta(t, 0.25, grads[0].H, 1e-6)
	assert.InDelta(t, 0.25, grads[1].H, 1e-6)
}

func TestSoftMaxGradsSumToZeroPerRow(t *testing.T) {
	const classes, n = 3, 4
	o := SoftMax[float64]{Classes: classes}
	grads := make([]split.Pair[float64], classes*n)
	labels := []float32{0, 1, 2, 1}
	preds := []float32{
		0.5, -1, 2, 0,
		0, 1, -2, 0.25,
		-0.5, 0, 0, 3,
	}
	o.UpdateGrad(grads, labels, preds)
	for i := 0; i < n; i++ {
		var sum float64
		for k := 0; k < classes; k++ {
			sum += grads[k*n+i].G
			assert.GreaterOrEqual(t, grads[k*n+i].H, 0.0)
		}
		assert.InDelta(t, 0.0, sum, 1e-9, "row %d", i)
	}
	// The true class gradient is negative (probability below 1).
	assert.Less(t, grads[0*n+0].G, 0.0)
}

func TestSoftMaxFromInternalArgmax(t *testing.T) {
	o := SoftMax[float32]{Classes: 2}
	// Class-major scores for 3 rows.
	batch := []float32{
		1, -1, 0.5,
		0, 2, 0.25,
	}
	got := o.FromInternal(batch)
	assert.Equal(t, []float32{0, 1, 0}, got)
}

func TestNeedsHessian(t *testing.T) {
	assert.False(t, LinearRegression.NeedsHessian())
	assert.True(t, LogisticRegression.NeedsHessian())
	assert.True(t, SoftMaxOneVsAll.NeedsHessian())
}

func TestLogisticSaturatedLabels(t *testing.T) {
	o := Logistic[float32]{}
	assert.True(t, math.IsInf(float64(o.IntoInternal(1)), 1))
	assert.True(t, math.IsInf(float64(o.IntoInternal(0)), -1))
}
