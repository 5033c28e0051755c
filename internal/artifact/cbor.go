package artifact

import (
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/attnscope/internal/attention"
)

// CBOR artifacts mirror the nested structure written by the first
// data-generation run: {group: {language: record}}. A record is a map with
// "prompt", "tokens" and either "attention" or integer layer keys.

// packedTensor is the compact tensor encoding: little-endian values plus shape.
type packedTensor struct {
	DType string `cbor:"dtype"`
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"`
}

// CBOROptions controls how WriteAttentionCBOR lays records out.
type CBOROptions struct {
	DType DType
	// Positional writes layers as integer keys on the record instead of a
	// named attention field.
	Positional bool
}

// WriteAttentionCBOR encodes s as a nested CBOR map.
func WriteAttentionCBOR(w io.Writer, s *attention.Store, opts CBOROptions) error {
	if opts.DType == "" {
		opts.DType = Float32
	}
	out := make(map[string]map[string]map[any]any, len(s.Groups))
	for _, group := range s.GroupNames() {
		langs := make(map[string]map[any]any)
		for _, lang := range s.LanguagesOf(group) {
			rec, _ := s.Record(group, lang)
			t, err := denseTensor(rec)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", group, lang, err)
			}
			m := map[any]any{"prompt": rec.Prompt, "tokens": rec.Tokens}
			if opts.Positional {
				per := t.Shape[1] * t.Shape[2] * t.Shape[3]
				for l := 0; l < t.Shape[0]; l++ {
					p, err := pack(opts.DType, []int{t.Shape[1], t.Shape[2], t.Shape[3]}, t.Data[l*per:(l+1)*per])
					if err != nil {
						return err
					}
					m[uint64(l)] = p
				}
			} else {
				p, err := pack(opts.DType, t.Shape[:], t.Data)
				if err != nil {
					return err
				}
				m["attention"] = p
			}
			langs[lang.Key()] = m
		}
		out[group] = langs
	}
	b, err := cbor.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cbor: %w", err)
	}
	_, err = w.Write(b)
	return err
}

func pack(dt DType, shape []int, v []float32) (packedTensor, error) {
	b, err := encodeLE(dt, v)
	if err != nil {
		return packedTensor{}, err
	}
	return packedTensor{DType: string(dt), Shape: append([]int(nil), shape...), Data: b}, nil
}

// ReadAttentionCBOR decodes a nested CBOR attention artifact. Records keep
// the layout they were written with.
func ReadAttentionCBOR(r io.Reader) (*attention.Store, error) {
	var top map[string]map[string]map[any]cbor.RawMessage
	if err := cbor.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}
	s := attention.NewStore()
	for group, langs := range top {
		for key, raw := range langs {
			lang, err := attention.ParseLanguage(key)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", group, err)
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", group, key, err)
			}
			s.Put(group, lang, rec)
		}
	}
	return s, nil
}

func decodeRecord(raw map[any]cbor.RawMessage) (*attention.Record, error) {
	rec := &attention.Record{}
	layers := map[int]cbor.RawMessage{}
	for k, v := range raw {
		switch key := k.(type) {
		case string:
			switch key {
			case "prompt":
				if err := cbor.Unmarshal(v, &rec.Prompt); err != nil {
					return nil, fmt.Errorf("prompt: %w", err)
				}
			case "tokens":
				if err := cbor.Unmarshal(v, &rec.Tokens); err != nil {
					return nil, fmt.Errorf("tokens: %w", err)
				}
			case "attention":
				t, err := decodeTensor4(v)
				if err != nil {
					return nil, fmt.Errorf("attention: %w", err)
				}
				rec.Attention = t
			}
		case uint64:
			layers[int(key)] = v
		case int64:
			if key < 0 {
				return nil, fmt.Errorf("negative layer key %d", key)
			}
			layers[int(key)] = v
		}
	}
	if len(layers) > 0 {
		idx := make([]int, 0, len(layers))
		for l := range layers {
			idx = append(idx, l)
		}
		sort.Ints(idx)
		rec.Layers = make([][]attention.Matrix, len(idx))
		for i, l := range idx {
			if l != i {
				return nil, shapeErr("layer keys are not contiguous from 0 (missing %d)", i)
			}
			heads, err := decodeHeads(layers[l])
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", l, err)
			}
			rec.Layers[i] = heads
		}
	}
	return rec, nil
}

func shapeErr(format string, args ...any) error {
	return &attention.Error{Kind: attention.KindShapeMismatch, Detail: fmt.Sprintf(format, args...)}
}

func isMap(raw cbor.RawMessage) bool {
	return len(raw) > 0 && raw[0]>>5 == 5
}

func unpack(raw cbor.RawMessage, dims int) ([]int, []float32, error) {
	var p packedTensor
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return nil, nil, err
	}
	if len(p.Shape) != dims {
		return nil, nil, shapeErr("packed tensor has %d dims, want %d", len(p.Shape), dims)
	}
	dt, err := ParseDType(p.DType)
	if err != nil {
		return nil, nil, err
	}
	data, err := decodeLE(dt, p.Data)
	if err != nil {
		return nil, nil, err
	}
	n := 1
	for _, d := range p.Shape {
		if d < 0 {
			return nil, nil, shapeErr("negative dimension in shape %v", p.Shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, nil, shapeErr("shape %v needs %d values, got %d", p.Shape, n, len(data))
	}
	return p.Shape, data, nil
}

func decodeTensor4(raw cbor.RawMessage) (*attention.Tensor, error) {
	if isMap(raw) {
		shape, data, err := unpack(raw, 4)
		if err != nil {
			return nil, err
		}
		return attention.NewTensor(shape[0], shape[1], shape[2], shape[3], data)
	}
	var nested [][][][]float64
	if err := cbor.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	if len(nested) == 0 {
		return attention.NewTensor(0, 0, 0, 0, nil)
	}
	// Layers without heads still count toward the layer bound.
	heads := len(nested[0])
	var data []float32
	var q, k int
	for l, layer := range nested {
		if len(layer) != heads {
			return nil, shapeErr("layer %d has %d heads, want %d", l, len(layer), heads)
		}
		for h, rows := range layer {
			m, err := matrixOf(rows)
			if err != nil {
				return nil, shapeErr("layer %d head %d: %v", l, h, err)
			}
			if l == 0 && h == 0 {
				q, k = m.Rows, m.Cols
			} else if m.Rows != q || m.Cols != k {
				return nil, shapeErr("layer %d head %d is %dx%d, want %dx%d", l, h, m.Rows, m.Cols, q, k)
			}
			data = append(data, m.Data...)
		}
	}
	return attention.NewTensor(len(nested), heads, q, k, data)
}

func decodeHeads(raw cbor.RawMessage) ([]attention.Matrix, error) {
	if isMap(raw) {
		shape, data, err := unpack(raw, 3)
		if err != nil {
			return nil, err
		}
		per := shape[1] * shape[2]
		heads := make([]attention.Matrix, shape[0])
		for h := range heads {
			heads[h] = attention.Matrix{Rows: shape[1], Cols: shape[2], Data: data[h*per : (h+1)*per]}
		}
		return heads, nil
	}
	var nested [][][]float64
	if err := cbor.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	heads := make([]attention.Matrix, len(nested))
	for h, rows := range nested {
		m, err := matrixOf(rows)
		if err != nil {
			return nil, shapeErr("head %d: %v", h, err)
		}
		heads[h] = m
	}
	return heads, nil
}

func matrixOf(rows [][]float64) (attention.Matrix, error) {
	f := make([][]float32, len(rows))
	for i, r := range rows {
		f[i] = make([]float32, len(r))
		for j, v := range r {
			f[i][j] = float32(v)
		}
	}
	return attention.NewMatrix(f)
}

// WriteOutputsCBOR encodes o as {group: {language: text}}.
func WriteOutputsCBOR(w io.Writer, o *attention.OutputStore) error {
	out := make(map[string]map[string]string, len(o.Responses))
	for group, langs := range o.Responses {
		m := make(map[string]string, len(langs))
		for lang, text := range langs {
			m[lang.Key()] = text
		}
		out[group] = m
	}
	b, err := cbor.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cbor: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// ReadOutputsCBOR decodes an output artifact.
func ReadOutputsCBOR(r io.Reader) (*attention.OutputStore, error) {
	var top map[string]map[string]string
	if err := cbor.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}
	o := attention.NewOutputStore()
	for group, langs := range top {
		for key, text := range langs {
			lang, err := attention.ParseLanguage(key)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", group, err)
			}
			o.Put(group, lang, text)
		}
	}
	return o, nil
}
