package split

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Split is the per-leaf best-split record reduced across features within one
// tree level. Fid -1 means no split has been chosen yet. A chosen split has
// Gain > 0; a leaf where no candidate achieved positive gain is closed with
// a degenerate record that routes every row left (threshold +Inf).
type Split[F constraints.Float, T Element[T, F]] struct {
	Fid         int
	Gain        F
	SplitValue  float32 // dense threshold; +Inf when degenerate
	SplitByTrue bool    // sparse: left side is the feature's true set
	Count       int     // rows on the left side
	SumGrad     T       // gradient aggregate of the left side
}

// Reset returns the record to the unset state at level entry.
func (s *Split[F, T]) Reset() {
	var zero T
	s.Fid = -1
	s.Gain = 0
	s.SplitValue = float32(math.Inf(1))
	s.SplitByTrue = false
	s.Count = 0
	s.SumGrad = zero
}

// Chosen reports whether a positive-gain split has been recorded.
func (s *Split[F, T]) Chosen() bool {
	return s.Fid >= 0 && s.Gain > 0
}

// Degenerate closes a leaf that found no positive-gain split: feature 0 with
// a +Inf threshold sends all rows left, and the left child inherits the full
// parent statistics. The node heap stays perfect and downstream routing
// needs no leaf-only node variant.
func (s *Split[F, T]) Degenerate(count int, sumGrad T) {
	s.Fid = 0
	s.Gain = 0
	s.SplitValue = float32(math.Inf(1))
	s.SplitByTrue = false
	s.Count = count
	s.SumGrad = sumGrad
}
