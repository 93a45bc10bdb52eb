// Package checkpoints persists trained ensembles: a readable JSON format
// and a compact binary format built on the protobuf wire encoding.
package checkpoints

import (
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pseudotensor/arboretum/training"
	"github.com/pseudotensor/arboretum/tree"
)

// Format selects the serialization format.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Metadata identifies a training run.
type Metadata struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Rounds    int       `json:"rounds"`
}

// Model is a complete trained ensemble with its configuration.
type Model struct {
	Metadata Metadata           `json:"metadata"`
	Param    training.TreeParam `json:"param"`
	Trees    []*tree.RegTree    `json:"trees"`
}

// FromGarden captures a trained Garden as a Model.
func FromGarden(g *training.Garden) *Model {
	trees := g.Trees()
	return &Model{
		Metadata: Metadata{
			RunID:     uuid.New().String(),
			CreatedAt: time.Now().UTC(),
			Rounds:    len(trees) / g.Param().LabelsCount,
		},
		Param: g.Param(),
		Trees: trees,
	}
}

// Save writes the model to path in the given format.
func (m *Model) Save(path string, format Format) error {
	var (
		raw []byte
		err error
	)
	switch format {
	case FormatJSON:
		raw, err = json.MarshalIndent(m, "", "  ")
	case FormatBinary:
		raw, err = m.MarshalBinary()
	default:
		return errors.Errorf("checkpoints: unknown format %d", format)
	}
	if err != nil {
		return errors.Wrap(err, "checkpoints: marshal")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "checkpoints: write %s", path)
	}
	return nil
}

// Load reads a model from path, sniffing the format.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoints: read %s", path)
	}
	m := &Model{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, m); err != nil {
			return nil, errors.Wrap(err, "checkpoints: decode JSON")
		}
		return m, nil
	}
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "checkpoints: decode binary")
	}
	return m, nil
}
