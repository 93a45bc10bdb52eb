package training

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"

	"github.com/pseudotensor/arboretum/cgo_bridge"
	"github.com/pseudotensor/arboretum/data"
	"github.com/pseudotensor/arboretum/engine"
	"github.com/pseudotensor/arboretum/memory"
	"github.com/pseudotensor/arboretum/objective"
	"github.com/pseudotensor/arboretum/split"
	"github.com/pseudotensor/arboretum/tree"
)

// Garden is the boosting trainer: an ensemble of regression trees grown one
// round at a time over a fixed dataset. The generic core underneath is
// instantiated once from the objective and precision configuration.
type Garden struct {
	param TreeParam
	impl  booster
}

type booster interface {
	growTree() error
	predict(m *data.DataMatrix) ([]float32, error)
	trees() []*tree.RegTree
	release()
}

// New initializes the device, budgets and transfers the dataset, and builds
// the trainer.
func New(m *data.DataMatrix, param TreeParam, cfg InternalConfig) (*Garden, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	if err := param.Validate(m.Columns()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	info, err := cgo_bridge.InitDevice()
	if err != nil {
		return nil, errors.Wrap(err, "training: device init")
	}
	klog.Infof("training on %s", info.Name)

	mgr := memory.NewManager()
	budget, err := mgr.TransferBudget()
	if err != nil {
		return nil, err
	}
	if err := m.TransferToGPU(mgr, budget); err != nil {
		return nil, err
	}

	kind, err := objective.ParseKind(param.Objective)
	if err != nil {
		return nil, err
	}

	var impl booster
	switch {
	case !kind.NeedsHessian() && !cfg.DoublePrecision:
		impl, err = newGarden[float32, split.Scalar[float32]](m, param, cfg, mgr, objective.Linear[float32]{})
	case !kind.NeedsHessian() && cfg.DoublePrecision:
		impl, err = newGarden[float64, split.Scalar[float64]](m, param, cfg, mgr, objective.Linear[float64]{})
	case kind == objective.LogisticRegression && !cfg.DoublePrecision:
		impl, err = newGarden[float32, split.Pair[float32]](m, param, cfg, mgr, objective.Logistic[float32]{})
	case kind == objective.LogisticRegression && cfg.DoublePrecision:
		impl, err = newGarden[float64, split.Pair[float64]](m, param, cfg, mgr, objective.Logistic[float64]{})
	case cfg.DoublePrecision:
		impl, err = newGarden[float64, split.Pair[float64]](m, param, cfg, mgr, objective.SoftMax[float64]{Classes: param.LabelsCount})
	default:
		impl, err = newGarden[float32, split.Pair[float32]](m, param, cfg, mgr, objective.SoftMax[float32]{Classes: param.LabelsCount})
	}
	if err != nil {
		return nil, err
	}
	return &Garden{param: param, impl: impl}, nil
}

// GrowTree runs one boosting round: refresh gradients from the current
// predictions, then grow labels_count trees (one per class slot).
func (g *Garden) GrowTree() error { return g.impl.growTree() }

// Predict scores a dataset with the current ensemble and maps the result
// out of internal space.
func (g *Garden) Predict(m *data.DataMatrix) ([]float32, error) { return g.impl.predict(m) }

// Trees returns the grown ensemble in round-major, class-minor order.
func (g *Garden) Trees() []*tree.RegTree { return g.impl.trees() }

// Param returns the tree configuration.
func (g *Garden) Param() TreeParam { return g.param }

// Release frees all device state.
func (g *Garden) Release() { g.impl.release() }

// garden is the generic core.
type garden[F constraints.Float, T split.Element[T, F]] struct {
	m      *data.DataMatrix
	param  TreeParam
	obj    objective.Objective[F, T]
	grower *engine.Grower[F, T]

	labels []float32 // internal-space labels
	preds  []float32 // class-major internal scores over the training set
	grads  []T       // class-major gradient vector
	forest []*tree.RegTree
}

func newGarden[F constraints.Float, T split.Element[T, F]](m *data.DataMatrix, param TreeParam, cfg InternalConfig, mgr *memory.Manager, obj objective.Objective[F, T]) (*garden[F, T], error) {
	ep := engine.Params{
		Depth:            param.Depth,
		MinLeaf:          param.MinLeafSize,
		MinHess:          param.MinChildWeight,
		Lambda:           param.Lambda,
		Alpha:            param.Alpha,
		Eta:              param.Eta,
		ColsampleBytree:  param.ColsampleBytree,
		ColsampleBylevel: param.ColsampleBylevel,
	}
	grower, err := engine.NewGrower[F, T](m, ep, mgr, cfg.Overlap, cfg.Seed)
	if err != nil {
		return nil, err
	}

	n := m.Rows
	g := &garden[F, T]{
		m:      m,
		param:  param,
		obj:    obj,
		grower: grower,
		labels: make([]float32, n),
		preds:  make([]float32, param.LabelsCount*n),
		grads:  make([]T, param.LabelsCount*n),
	}
	for i, y := range m.Labels {
		g.labels[i] = obj.IntoInternal(y)
	}
	base := obj.IntoInternal(float32(param.InitialY))
	for i := range g.preds {
		g.preds[i] = base
	}
	return g, nil
}

func (g *garden[F, T]) growTree() error {
	n := g.m.Rows
	g.obj.UpdateGrad(g.grads, g.labels, g.preds)
	for k := 0; k < g.param.LabelsCount; k++ {
		t, err := g.grower.Grow(g.grads[k*n : (k+1)*n])
		if err != nil {
			return errors.Wrapf(err, "training: tree %d class %d", len(g.forest)/g.param.LabelsCount, k)
		}
		g.forest = append(g.forest, t)
		t.Predict(g.m, g.preds[k*n:(k+1)*n])
	}
	klog.V(1).Infof("round %d complete, %d trees", len(g.forest)/g.param.LabelsCount, len(g.forest))
	return nil
}

func (g *garden[F, T]) predict(m *data.DataMatrix) ([]float32, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	n := m.Rows
	scores := make([]float32, g.param.LabelsCount*n)
	base := g.obj.IntoInternal(float32(g.param.InitialY))
	for i := range scores {
		scores[i] = base
	}
	for i, t := range g.forest {
		k := i % g.param.LabelsCount
		t.Predict(m, scores[k*n:(k+1)*n])
	}
	return g.obj.FromInternal(scores), nil
}

func (g *garden[F, T]) trees() []*tree.RegTree { return g.forest }

func (g *garden[F, T]) release() { g.grower.Release() }
