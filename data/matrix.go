// Package data holds the training dataset in the column layout the split
// finder consumes: dense float columns with a precomputed sort permutation
// per column, and binary sparse columns stored as ascending row-index lists.
package data

import (
	"sort"

	"github.com/pkg/errors"
)

// DataMatrix is the tabular dataset. Dense features occupy feature ids
// [0, ColumnsDense); sparse features occupy [ColumnsDense, Columns).
type DataMatrix struct {
	Rows          int
	ColumnsDense  int
	ColumnsSparse int

	// Dense columns: one float per row, plus the permutation sorting rows
	// by ascending value of that column.
	Data  [][]float32
	Index [][]uint32

	// Sparse columns: strictly ascending row indices where the feature is
	// true, and the transposed per-row fid lists (global feature ids,
	// ascending).
	LilColumn [][]uint32
	LilRow    [][]uint32

	// Device mirrors, populated by TransferToGPU for what fits the budget.
	DataDevice      []devColumn
	IndexDevice     []devColumn
	LilColumnDevice []devColumn

	Labels []float32

	initialized bool
}

// Columns returns the total feature count.
func (m *DataMatrix) Columns() int { return m.ColumnsDense + m.ColumnsSparse }

// AddDenseFeature appends a dense column. Init builds the sort permutation.
func (m *DataMatrix) AddDenseFeature(values []float32) {
	m.Data = append(m.Data, values)
	m.ColumnsDense = len(m.Data)
}

// AddSparseFeature appends a sparse column as its ascending true-row list.
func (m *DataMatrix) AddSparseFeature(rows []uint32) {
	m.LilColumn = append(m.LilColumn, rows)
	m.ColumnsSparse = len(m.LilColumn)
}

// SetLabels attaches the label vector.
func (m *DataMatrix) SetLabels(y []float32) {
	m.Labels = y
}

// Init validates the layout and finalizes derived structures: the per-column
// sort permutations and the per-row sparse fid lists.
func (m *DataMatrix) Init() error {
	if m.initialized {
		return nil
	}
	if m.Rows == 0 {
		switch {
		case len(m.Data) > 0:
			m.Rows = len(m.Data[0])
		case len(m.Labels) > 0:
			m.Rows = len(m.Labels)
		default:
			return errors.New("data: empty matrix")
		}
	}
	if m.Columns() == 0 {
		return errors.New("data: no feature columns")
	}
	for fid, col := range m.Data {
		if len(col) != m.Rows {
			return errors.Errorf("data: dense column %d has %d rows, want %d", fid, len(col), m.Rows)
		}
	}
	if m.Labels != nil && len(m.Labels) != m.Rows {
		return errors.Errorf("data: %d labels for %d rows", len(m.Labels), m.Rows)
	}

	if m.Index == nil {
		m.Index = make([][]uint32, len(m.Data))
	}
	for fid := range m.Data {
		if m.Index[fid] == nil {
			m.Index[fid] = sortPermutation(m.Data[fid])
		}
		if err := validatePermutation(m.Index[fid], m.Rows); err != nil {
			return errors.Wrapf(err, "data: dense column %d", fid)
		}
	}

	for j, lil := range m.LilColumn {
		for i := 1; i < len(lil); i++ {
			if lil[i] <= lil[i-1] {
				return errors.Errorf("data: sparse column %d row list not strictly ascending at %d", j, i)
			}
		}
		if len(lil) > 0 && int(lil[len(lil)-1]) >= m.Rows {
			return errors.Errorf("data: sparse column %d row %d out of range", j, lil[len(lil)-1])
		}
	}
	m.buildLilRows()

	// Device mirrors start empty; TransferToGPU fills what the budget
	// allows and the pipeline uploads the rest per pass.
	if m.DataDevice == nil {
		m.DataDevice = make([]devColumn, m.ColumnsDense)
		m.IndexDevice = make([]devColumn, m.ColumnsDense)
		m.LilColumnDevice = make([]devColumn, m.ColumnsSparse)
	}

	m.initialized = true
	return nil
}

// buildLilRows transposes the sparse columns into per-row ascending global
// fid lists. Iterating columns in order keeps each row list sorted.
func (m *DataMatrix) buildLilRows() {
	m.LilRow = make([][]uint32, m.Rows)
	for j, lil := range m.LilColumn {
		fid := uint32(m.ColumnsDense + j)
		for _, row := range lil {
			m.LilRow[row] = append(m.LilRow[row], fid)
		}
	}
}

// RowHasSparse reports whether the sparse feature fid (global id) is true
// for row, by binary search in the row's fid list.
func (m *DataMatrix) RowHasSparse(row int, fid int) bool {
	lil := m.LilRow[row]
	i := sort.Search(len(lil), func(k int) bool { return lil[k] >= uint32(fid) })
	return i < len(lil) && lil[i] == uint32(fid)
}

// SparseCount returns the number of true rows of sparse column fid
// (global id).
func (m *DataMatrix) SparseCount(fid int) int {
	return len(m.LilColumn[fid-m.ColumnsDense])
}

func sortPermutation(values []float32) []uint32 {
	perm := make([]uint32, len(values))
	for i := range perm {
		perm[i] = uint32(i)
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return values[perm[a]] < values[perm[b]]
	})
	return perm
}

func validatePermutation(perm []uint32, n int) error {
	if len(perm) != n {
		return errors.Errorf("permutation length %d, want %d", len(perm), n)
	}
	seen := make([]bool, n)
	for _, p := range perm {
		if int(p) >= n || seen[p] {
			return errors.Errorf("not a permutation of [0,%d)", n)
		}
		seen[p] = true
	}
	return nil
}
