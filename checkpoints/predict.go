package checkpoints

import (
	"github.com/pseudotensor/arboretum/data"
	"github.com/pseudotensor/arboretum/objective"
)

// Predict scores a dataset with a loaded model, without touching the
// device: tree walking is a host operation.
func (m *Model) Predict(dm *data.DataMatrix) ([]float32, error) {
	if err := dm.Init(); err != nil {
		return nil, err
	}
	kind, err := objective.ParseKind(m.Param.Objective)
	if err != nil {
		return nil, err
	}
	var into func(float32) float32
	var from func([]float32) []float32
	switch kind {
	case objective.LinearRegression:
		o := objective.Linear[float32]{}
		into, from = o.IntoInternal, o.FromInternal
	case objective.LogisticRegression:
		o := objective.Logistic[float32]{}
		into, from = o.IntoInternal, o.FromInternal
	default:
		o := objective.SoftMax[float32]{Classes: m.Param.LabelsCount}
		into, from = o.IntoInternal, o.FromInternal
	}

	n := dm.Rows
	labels := m.Param.LabelsCount
	scores := make([]float32, labels*n)
	base := into(float32(m.Param.InitialY))
	for i := range scores {
		scores[i] = base
	}
	for i, t := range m.Trees {
		k := i % labels
		t.Predict(dm, scores[k*n:(k+1)*n])
	}
	return from(scores), nil
}
