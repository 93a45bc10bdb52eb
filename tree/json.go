package tree

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Thresholds serialize as shortest-round-trip strings because degenerate
// nodes carry +Inf, which JSON numbers cannot represent.
type nodeJSON struct {
	Fid         int    `json:"fid"`
	Threshold   string `json:"threshold"`
	SplitByTrue bool   `json:"split_by_true,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{
		Fid:         n.Fid,
		Threshold:   strconv.FormatFloat(float64(n.Threshold), 'g', -1, 32),
		SplitByTrue: n.SplitByTrue,
	})
}

func (n *Node) UnmarshalJSON(raw []byte) error {
	var aux nodeJSON
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	th, err := strconv.ParseFloat(aux.Threshold, 32)
	if err != nil {
		return errors.Wrapf(err, "tree: threshold %q", aux.Threshold)
	}
	n.Fid = aux.Fid
	n.Threshold = float32(th)
	n.SplitByTrue = aux.SplitByTrue
	return nil
}
