package objective

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/split"
)

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Logistic is binary classification over margins. Labels map through the
// logit so FromInternal(IntoInternal(y)) round-trips for y in (0, 1); hard
// 0/1 labels saturate to -Inf/+Inf and come back exact through the sigmoid.
type Logistic[F constraints.Float] struct{}

func (Logistic[F]) IntoInternal(y float32) float32 {
	return float32(math.Log(float64(y) / (1 - float64(y))))
}

func (Logistic[F]) FromInternal(batch []float32) []float32 {
	out := make([]float32, len(batch))
	for i, x := range batch {
		out[i] = sigmoid(x)
	}
	return out
}

func (Logistic[F]) UpdateGrad(grads []split.Pair[F], labels []float32, preds []float32) {
	parallelFor(len(labels), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := sigmoid(preds[i])
			y := sigmoid(labels[i])
			grads[i] = split.Pair[F]{G: F(p - y), H: F(p * (1 - p))}
		}
	})
}
