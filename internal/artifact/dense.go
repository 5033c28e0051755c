package artifact

import (
	"fmt"
	"slices"

	"github.com/23skdu/attnscope/internal/attention"
)

// denseTensor returns the record's weights as one [layer][head][q][k]
// tensor, packing the positional form when that is what the record holds.
func denseTensor(rec *attention.Record) (*attention.Tensor, error) {
	if rec.Attention != nil {
		return rec.Attention, nil
	}
	if len(rec.Layers) == 0 || len(rec.Layers[0]) == 0 {
		return nil, fmt.Errorf("record carries no attention weights")
	}
	heads := len(rec.Layers[0])
	q, k := rec.Layers[0][0].Rows, rec.Layers[0][0].Cols
	data := make([]float32, 0, len(rec.Layers)*heads*q*k)
	for l, layer := range rec.Layers {
		if len(layer) != heads {
			return nil, fmt.Errorf("layer %d has %d heads, want %d", l, len(layer), heads)
		}
		for h, m := range layer {
			if m.Rows != q || m.Cols != k {
				return nil, fmt.Errorf("layer %d head %d is %dx%d, want %dx%d", l, h, m.Rows, m.Cols, q, k)
			}
			data = append(data, m.Data[:q*k]...)
		}
	}
	return attention.NewTensor(len(rec.Layers), heads, q, k, data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
