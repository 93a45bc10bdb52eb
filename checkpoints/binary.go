package checkpoints

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pseudotensor/arboretum/tree"
)

// Binary model layout (protobuf wire format, hand-numbered fields):
//
//	Model:    1=version varint, 2=run_id string, 3=created_at_unix varint,
//	          4=rounds varint, 5=param message, 6=tree message (repeated)
//	Param:    1=depth, 2=min_leaf_size, 3=labels_count varints;
//	          4=lambda, 5=alpha, 6=eta, 7=gamma, 8=min_child_weight,
//	          9=colsample_bytree, 10=colsample_bylevel, 11=initial_y fixed64;
//	          12=objective string
//	Tree:     1=depth varint, 2=node message (repeated), 3=weights packed fixed32
//	Node:     1=fid varint, 2=threshold fixed32, 3=split_by_true varint

const binaryVersion = 1

func unixUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// MarshalBinary encodes the model.
func (m *Model) MarshalBinary() ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, binaryVersion)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendString(out, m.Metadata.RunID)
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(m.Metadata.CreatedAt.Unix()))
	out = protowire.AppendTag(out, 4, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(m.Metadata.Rounds))

	out = protowire.AppendTag(out, 5, protowire.BytesType)
	out = protowire.AppendBytes(out, m.appendParam(nil))

	for _, t := range m.Trees {
		out = protowire.AppendTag(out, 6, protowire.BytesType)
		out = protowire.AppendBytes(out, appendTree(nil, t))
	}
	return out, nil
}

func (m *Model) appendParam(out []byte) []byte {
	p := m.Param
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.Depth))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.MinLeafSize))
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.LabelsCount))
	for i, v := range []float64{p.Lambda, p.Alpha, p.Eta, p.Gamma, p.MinChildWeight, p.ColsampleBytree, p.ColsampleBylevel, p.InitialY} {
		out = protowire.AppendTag(out, protowire.Number(4+i), protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(v))
	}
	out = protowire.AppendTag(out, 12, protowire.BytesType)
	out = protowire.AppendString(out, p.Objective)
	return out
}

func appendTree(out []byte, t *tree.RegTree) []byte {
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(t.Depth))
	for _, n := range t.Nodes {
		var node []byte
		node = protowire.AppendTag(node, 1, protowire.VarintType)
		node = protowire.AppendVarint(node, uint64(n.Fid))
		node = protowire.AppendTag(node, 2, protowire.Fixed32Type)
		node = protowire.AppendFixed32(node, math.Float32bits(n.Threshold))
		if n.SplitByTrue {
			node = protowire.AppendTag(node, 3, protowire.VarintType)
			node = protowire.AppendVarint(node, 1)
		}
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, node)
	}
	var weights []byte
	for _, w := range t.Weights {
		weights = protowire.AppendFixed32(weights, math.Float32bits(w))
	}
	out = protowire.AppendTag(out, 3, protowire.BytesType)
	out = protowire.AppendBytes(out, weights)
	return out
}

// UnmarshalBinary decodes a model produced by MarshalBinary.
func (m *Model) UnmarshalBinary(raw []byte) error {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return errors.New("checkpoints: bad tag")
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return errors.New("checkpoints: bad version")
			}
			if v != binaryVersion {
				return errors.Errorf("checkpoints: unsupported model version %d", v)
			}
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return errors.New("checkpoints: bad run id")
			}
			m.Metadata.RunID = string(v)
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return errors.New("checkpoints: bad timestamp")
			}
			m.Metadata.CreatedAt = unixUTC(int64(v))
			raw = raw[n:]
		case 4:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return errors.New("checkpoints: bad rounds")
			}
			m.Metadata.Rounds = int(v)
			raw = raw[n:]
		case 5:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return errors.New("checkpoints: bad param")
			}
			if err := m.consumeParam(v); err != nil {
				return err
			}
			raw = raw[n:]
		case 6:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return errors.New("checkpoints: bad tree")
			}
			t, err := consumeTree(v)
			if err != nil {
				return err
			}
			m.Trees = append(m.Trees, t)
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return errors.New("checkpoints: bad field")
			}
			raw = raw[n:]
		}
	}
	return nil
}

func (m *Model) consumeParam(raw []byte) error {
	floats := []*float64{
		&m.Param.Lambda, &m.Param.Alpha, &m.Param.Eta, &m.Param.Gamma,
		&m.Param.MinChildWeight, &m.Param.ColsampleBytree, &m.Param.ColsampleBylevel, &m.Param.InitialY,
	}
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return errors.New("checkpoints: bad param tag")
		}
		raw = raw[n:]
		switch {
		case num == 1 || num == 2 || num == 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return errors.New("checkpoints: bad param varint")
			}
			switch num {
			case 1:
				m.Param.Depth = int(v)
			case 2:
				m.Param.MinLeafSize = int(v)
			case 3:
				m.Param.LabelsCount = int(v)
			}
			raw = raw[n:]
		case num >= 4 && num <= 11:
			v, n := protowire.ConsumeFixed64(raw)
			if n < 0 {
				return errors.New("checkpoints: bad param float")
			}
			*floats[num-4] = math.Float64frombits(v)
			raw = raw[n:]
		case num == 12:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return errors.New("checkpoints: bad objective")
			}
			m.Param.Objective = string(v)
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return errors.New("checkpoints: bad param field")
			}
			raw = raw[n:]
		}
	}
	return nil
}

func consumeTree(raw []byte) (*tree.RegTree, error) {
	t := &tree.RegTree{}
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.New("checkpoints: bad tree tag")
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return nil, errors.New("checkpoints: bad tree depth")
			}
			t.Depth = int(v)
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.New("checkpoints: bad node")
			}
			node, err := consumeNode(v)
			if err != nil {
				return nil, err
			}
			t.Nodes = append(t.Nodes, node)
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 || len(v)%4 != 0 {
				return nil, errors.New("checkpoints: bad weights")
			}
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return nil, errors.New("checkpoints: bad weight")
				}
				t.Weights = append(t.Weights, math.Float32frombits(bits))
				v = v[n:]
			}
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return nil, errors.New("checkpoints: bad tree field")
			}
			raw = raw[n:]
		}
	}
	return t, nil
}

func consumeNode(raw []byte) (tree.Node, error) {
	var node tree.Node
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return node, errors.New("checkpoints: bad node tag")
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return node, errors.New("checkpoints: bad fid")
			}
			node.Fid = int(v)
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeFixed32(raw)
			if n < 0 {
				return node, errors.New("checkpoints: bad threshold")
			}
			node.Threshold = math.Float32frombits(v)
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return node, errors.New("checkpoints: bad flag")
			}
			node.SplitByTrue = v != 0
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return node, errors.New("checkpoints: bad node field")
			}
			raw = raw[n:]
		}
	}
	return node, nil
}
