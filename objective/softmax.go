package objective

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/split"
)

// SoftMax is K-class one-vs-all classification: one tree per class per
// round. Labels are class indices; FromInternal reduces the class-major
// score block to per-row argmax predictions.
type SoftMax[F constraints.Float] struct {
	Classes int
}

func (SoftMax[F]) IntoInternal(y float32) float32 { return y }

func (s SoftMax[F]) FromInternal(batch []float32) []float32 {
	n := len(batch) / s.Classes
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		best, bestScore := 0, float32(math.Inf(-1))
		for k := 0; k < s.Classes; k++ {
			if v := batch[k*n+i]; v > bestScore {
				best, bestScore = k, v
			}
		}
		out[i] = float32(best)
	}
	return out
}

func (s SoftMax[F]) UpdateGrad(grads []split.Pair[F], labels []float32, preds []float32) {
	n := len(labels)
	parallelFor(n, func(lo, hi int) {
		prob := make([]float64, s.Classes)
		for i := lo; i < hi; i++ {
			maxScore := math.Inf(-1)
			for k := 0; k < s.Classes; k++ {
				if v := float64(preds[k*n+i]); v > maxScore {
					maxScore = v
				}
			}
			var norm float64
			for k := 0; k < s.Classes; k++ {
				prob[k] = math.Exp(float64(preds[k*n+i]) - maxScore)
				norm += prob[k]
			}
			label := int(labels[i])
			for k := 0; k < s.Classes; k++ {
				p := prob[k] / norm
				y := 0.0
				if k == label {
					y = 1.0
				}
				grads[k*n+i] = split.Pair[F]{G: F(p - y), H: F(p * (1 - p))}
			}
		}
	})
}
