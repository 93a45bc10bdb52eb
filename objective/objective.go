// Package objective implements the differentiable objectives that feed the
// tree builder: each one transforms labels into internal scores and refreshes
// the per-row gradient vector from the current predictions.
package objective

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/split"
)

// Kind names a supported objective.
type Kind int

const (
	LinearRegression Kind = iota
	LogisticRegression
	SoftMaxOneVsAll
)

// ParseKind maps a config string to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "reg:linear", "linear":
		return LinearRegression, nil
	case "binary:logistic", "logistic":
		return LogisticRegression, nil
	case "multi:softmax", "softmax":
		return SoftMaxOneVsAll, nil
	default:
		return 0, errors.Errorf("objective: unknown objective %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case LinearRegression:
		return "reg:linear"
	case LogisticRegression:
		return "binary:logistic"
	case SoftMaxOneVsAll:
		return "multi:softmax"
	default:
		return "unknown"
	}
}

// NeedsHessian reports whether the objective produces second-order terms,
// which selects the Pair gradient element.
func (k Kind) NeedsHessian() bool {
	return k == LogisticRegression || k == SoftMaxOneVsAll
}

// Objective produces gradients for one gradient element shape. Labels are in
// internal space (IntoInternal applied once at setup); preds and grads are
// laid out class-major, slot k covering [k*N, (k+1)*N).
type Objective[F constraints.Float, T split.Element[T, F]] interface {
	IntoInternal(y float32) float32
	FromInternal(batch []float32) []float32
	UpdateGrad(grads []T, labels []float32, preds []float32)
}

// parallelFor splits [0, n) across workers. Host-side row scans use this;
// anything they accumulate merges under the caller's lock.
func parallelFor(n int, body func(lo, hi int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		body(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			body(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
