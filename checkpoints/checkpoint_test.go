//go:build !cuda

package checkpoints

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudotensor/arboretum/data"
	"github.com/pseudotensor/arboretum/training"
	"github.com/pseudotensor/arboretum/tree"
)

func sampleModel() *Model {
	t1 := tree.New(2)
	t1.Nodes[0] = tree.Node{Fid: 0, Threshold: 2.5}
	t1.Weights = []float32{-1, 1}
	t2 := tree.New(2)
	t2.Nodes[0] = tree.Node{Fid: 1, SplitByTrue: true}
	t2.Weights = []float32{0.25, -0.25}
	t3 := tree.New(2)
	t3.Nodes[0] = tree.Node{Fid: 0, Threshold: float32(math.Inf(1))}
	t3.Weights = []float32{0.125, 0}

	param := training.DefaultTreeParam()
	param.Depth = 2
	param.InitialY = 0
	return &Model{
		Metadata: Metadata{
			RunID:     "5f64a2da-8d51-4e2c-9a3e-2b8f0a1a9d00",
			CreatedAt: time.Unix(1700000000, 0).UTC(),
			Rounds:    3,
		},
		Param: param,
		Trees: []*tree.RegTree{t1, t2, t3},
	}
}

func TestSaveLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	m := sampleModel()
	require.NoError(t, m.Save(path, FormatJSON))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestSaveLoadBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	m := sampleModel()
	require.NoError(t, m.Save(path, FormatBinary))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestBinaryRejectsUnknownVersion(t *testing.T) {
	m := sampleModel()
	raw, err := m.MarshalBinary()
	require.NoError(t, err)
	raw[1] = 0x7f // corrupt the version varint payload

	var out Model
	assert.Error(t, out.UnmarshalBinary(raw))
}

func TestModelPredict(t *testing.T) {
	dm := &data.DataMatrix{Rows: 4}
	dm.AddDenseFeature([]float32{1, 2, 3, 4})
	dm.AddSparseFeature([]uint32{0, 2})
	require.NoError(t, dm.Init())

	m := sampleModel()
	preds, err := m.Predict(dm)
	require.NoError(t, err)

	// Row 0: -1 + 0.25 + 0.125; row 1: -1 - 0.25 + 0.125;
	// row 2: 1 + 0.25 + 0.125; row 3: 1 - 0.25 + 0.125.
	want := []float32{-0.625, -1.125, 1.375, 0.875}
	require.Len(t, preds, 4)
	for i := range want {
		assert.InDelta(t, float64(want[i]), float64(preds[i]), 1e-6, "row %d", i)
	}
}
