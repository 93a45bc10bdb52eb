// Package training drives boosting: configuration, the objective/precision
// dispatch, and the round loop that grows trees and refreshes predictions.
package training

import (
	"github.com/pkg/errors"

	"github.com/pseudotensor/arboretum/objective"
)

// TreeParam is the user-facing tree configuration.
type TreeParam struct {
	Depth            int     `yaml:"depth" json:"depth"`
	MinLeafSize      int     `yaml:"min_leaf_size" json:"min_leaf_size"`
	MinChildWeight   float64 `yaml:"min_child_weight" json:"min_child_weight"`
	Gamma            float64 `yaml:"gamma" json:"gamma"` // reserved, not part of the gain
	Lambda           float64 `yaml:"lambda" json:"lambda"`
	Alpha            float64 `yaml:"alpha" json:"alpha"`
	Eta              float64 `yaml:"eta" json:"eta"`
	ColsampleBytree  float64 `yaml:"colsample_bytree" json:"colsample_bytree"`
	ColsampleBylevel float64 `yaml:"colsample_bylevel" json:"colsample_bylevel"`
	InitialY         float64 `yaml:"initial_y" json:"initial_y"`
	LabelsCount      int     `yaml:"labels_count" json:"labels_count"`
	Objective        string  `yaml:"objective" json:"objective"`
}

// DefaultTreeParam returns the xgboost-flavored defaults.
func DefaultTreeParam() TreeParam {
	return TreeParam{
		Depth:            6,
		MinLeafSize:      1,
		Lambda:           1,
		Eta:              0.3,
		ColsampleBytree:  1,
		ColsampleBylevel: 1,
		InitialY:         0.5,
		LabelsCount:      1,
		Objective:        "reg:linear",
	}
}

// InternalConfig is the trainer-internal configuration.
type InternalConfig struct {
	Seed            int64 `yaml:"seed" json:"seed"`
	Overlap         int   `yaml:"overlap" json:"overlap"` // pipeline depth, 2-4 typical
	DoublePrecision bool  `yaml:"double_precision" json:"double_precision"`
}

// DefaultInternalConfig returns the default internal configuration.
func DefaultInternalConfig() InternalConfig {
	return InternalConfig{Overlap: 2}
}

// Validate checks the configuration against a dataset of columns features.
func (p TreeParam) Validate(columns int) error {
	if p.Depth < 2 || p.Depth+1 > 64 {
		return errors.Errorf("training: unsupported depth %d", p.Depth)
	}
	if p.ColsampleBytree <= 0 || p.ColsampleBytree > 1 || p.ColsampleBylevel <= 0 || p.ColsampleBylevel > 1 {
		return errors.Errorf("training: column sample rates must lie in (0,1]")
	}
	if int(p.ColsampleBytree*float64(columns)) == 0 ||
		int(p.ColsampleBytree*p.ColsampleBylevel*float64(columns)) == 0 {
		return errors.Errorf("training: sampling too small for %d columns", columns)
	}
	if p.LabelsCount < 1 {
		return errors.Errorf("training: labels_count %d, want >= 1", p.LabelsCount)
	}
	kind, err := objective.ParseKind(p.Objective)
	if err != nil {
		return err
	}
	if kind == objective.SoftMaxOneVsAll && p.LabelsCount < 2 {
		return errors.Errorf("training: softmax requires labels_count >= 2")
	}
	return nil
}

// Validate checks the internal configuration.
func (c InternalConfig) Validate() error {
	if c.Overlap < 1 {
		return errors.Errorf("training: overlap %d, want >= 1", c.Overlap)
	}
	return nil
}
