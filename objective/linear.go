package objective

import (
	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/split"
)

// Linear is squared-error regression. Predictions are the target space, so
// both transforms are the identity; the gradient is the residual pred - y
// and the hessian is constant, so the Scalar element carries gradient only.
type Linear[F constraints.Float] struct{}

func (Linear[F]) IntoInternal(y float32) float32 { return y }

func (Linear[F]) FromInternal(batch []float32) []float32 {
	out := make([]float32, len(batch))
	copy(out, batch)
	return out
}

func (Linear[F]) UpdateGrad(grads []split.Scalar[F], labels []float32, preds []float32) {
	parallelFor(len(labels), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			grads[i] = split.Scalar[F]{G: F(preds[i] - labels[i])}
		}
	})
}
