package main

import (
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/pseudotensor/arboretum/data"
)

// loadMatrix reads a CSV into a DataMatrix. Columns holding only 0/1 become
// sparse set-indicator features; everything else is dense. labelCol may be
// empty for prediction inputs.
func loadMatrix(path, labelCol string) (*data.DataMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parse %s", path)
	}

	m := &data.DataMatrix{Rows: df.Nrow()}
	dense, sparse := 0, 0
	for _, name := range df.Names() {
		col := df.Col(name).Float()
		if name == labelCol {
			labels := make([]float32, len(col))
			for i, v := range col {
				labels[i] = float32(v)
			}
			m.SetLabels(labels)
			continue
		}
		if isIndicator(col) {
			var rows []uint32
			for i, v := range col {
				if v != 0 {
					rows = append(rows, uint32(i))
				}
			}
			m.AddSparseFeature(rows)
			sparse++
			continue
		}
		values := make([]float32, len(col))
		for i, v := range col {
			values[i] = float32(v)
		}
		m.AddDenseFeature(values)
		dense++
	}
	if labelCol != "" && m.Labels == nil {
		return nil, errors.Errorf("label column %q not found in %s", labelCol, path)
	}
	klog.V(1).Infof("loaded %s: %d rows, %d dense, %d sparse columns", path, m.Rows, dense, sparse)
	return m, nil
}

func isIndicator(col []float64) bool {
	for _, v := range col {
		if v != 0 && v != 1 {
			return false
		}
	}
	return len(col) > 0
}
