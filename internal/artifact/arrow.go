package artifact

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowf16 "github.com/apache/arrow-go/v18/arrow/float16"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/attnscope/internal/attention"
)

const dtypeKey = "dtype"

func attentionElemType(dt DType) (arrow.DataType, error) {
	switch dt {
	case Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case Float16:
		return arrow.FixedWidthTypes.Float16, nil
	case BFloat16:
		return arrow.PrimitiveTypes.Uint16, nil
	}
	return nil, fmt.Errorf("unsupported dtype %q", dt)
}

// AttentionSchema is the Arrow layout of an attention artifact: one row per
// (group, language).
func AttentionSchema(dt DType) (*arrow.Schema, error) {
	elem, err := attentionElemType(dt)
	if err != nil {
		return nil, err
	}
	md := arrow.NewMetadata([]string{dtypeKey}, []string{string(dt)})
	return arrow.NewSchema([]arrow.Field{
		{Name: "group", Type: arrow.BinaryTypes.String},
		{Name: "language", Type: arrow.BinaryTypes.String},
		{Name: "prompt", Type: arrow.BinaryTypes.String},
		{Name: "tokens", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "shape", Type: arrow.FixedSizeListOf(4, arrow.PrimitiveTypes.Int32)},
		{Name: "attention", Type: arrow.ListOf(elem), Metadata: md},
	}, nil), nil
}

// OutputSchema is the Arrow layout of an output artifact.
var OutputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "group", Type: arrow.BinaryTypes.String},
	{Name: "language", Type: arrow.BinaryTypes.String},
	{Name: "response", Type: arrow.BinaryTypes.String},
}, nil)

// WriteAttentionArrow encodes s as an Arrow IPC stream, one record batch per
// (group, language). Positional records are densified.
func WriteAttentionArrow(w io.Writer, s *attention.Store, dt DType) error {
	schema, err := AttentionSchema(dt)
	if err != nil {
		return err
	}
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	for _, group := range s.GroupNames() {
		for _, lang := range s.LanguagesOf(group) {
			rec, _ := s.Record(group, lang)
			t, err := denseTensor(rec)
			if err != nil {
				iw.Close()
				return fmt.Errorf("%s/%s: %w", group, lang, err)
			}
			appendAttentionRow(b, group, lang, rec, t, dt)
			batch := b.NewRecord()
			err = iw.Write(batch)
			batch.Release()
			if err != nil {
				iw.Close()
				return fmt.Errorf("write %s/%s: %w", group, lang, err)
			}
		}
	}
	return iw.Close()
}

func appendAttentionRow(b *array.RecordBuilder, group string, lang attention.Language, rec *attention.Record, t *attention.Tensor, dt DType) {
	b.Field(0).(*array.StringBuilder).Append(group)
	b.Field(1).(*array.StringBuilder).Append(lang.Key())
	b.Field(2).(*array.StringBuilder).Append(rec.Prompt)

	tb := b.Field(3).(*array.ListBuilder)
	tb.Append(true)
	tb.ValueBuilder().(*array.StringBuilder).AppendValues(rec.Tokens, nil)

	sb := b.Field(4).(*array.FixedSizeListBuilder)
	sb.Append(true)
	sb.ValueBuilder().(*array.Int32Builder).AppendValues([]int32{
		int32(t.Shape[0]), int32(t.Shape[1]), int32(t.Shape[2]), int32(t.Shape[3]),
	}, nil)

	ab := b.Field(5).(*array.ListBuilder)
	ab.Append(true)
	switch vb := ab.ValueBuilder().(type) {
	case *array.Float32Builder:
		vb.AppendValues(t.Data, nil)
	case *array.Float64Builder:
		for _, v := range t.Data {
			vb.Append(float64(v))
		}
	case *array.Float16Builder:
		for _, v := range t.Data {
			vb.Append(arrowf16.New(v))
		}
	case *array.Uint16Builder:
		for _, v := range t.Data {
			vb.Append(bf16Bits(v))
		}
	}
}

// ReadAttentionArrow decodes an Arrow IPC stream written by
// WriteAttentionArrow. Records always decode to the named form.
func ReadAttentionArrow(r io.Reader) (*attention.Store, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	idx, err := columnIndices(schema, "group", "language", "prompt", "tokens", "shape", "attention")
	if err != nil {
		return nil, err
	}
	bf16 := false
	if md := schema.Field(idx[5]).Metadata; md.FindKey(dtypeKey) >= 0 {
		bf16 = DType(md.Values()[md.FindKey(dtypeKey)]) == BFloat16
	}

	s := attention.NewStore()
	for rdr.Next() {
		batch := rdr.Record()
		groups, ok1 := batch.Column(idx[0]).(*array.String)
		langs, ok2 := batch.Column(idx[1]).(*array.String)
		prompts, ok3 := batch.Column(idx[2]).(*array.String)
		tokens, ok4 := batch.Column(idx[3]).(*array.List)
		shapes, ok5 := batch.Column(idx[4]).(*array.FixedSizeList)
		attn, ok6 := batch.Column(idx[5]).(*array.List)
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
			return nil, fmt.Errorf("attention artifact has unexpected column types")
		}
		tokenValues, ok := tokens.ListValues().(*array.String)
		if !ok {
			return nil, fmt.Errorf("tokens column is not a list of strings")
		}
		shapeValues, ok := shapes.ListValues().(*array.Int32)
		if !ok {
			return nil, fmt.Errorf("shape column is not int32")
		}

		for i := 0; i < int(batch.NumRows()); i++ {
			lang, err := attention.ParseLanguage(langs.Value(i))
			if err != nil {
				return nil, err
			}
			rec := &attention.Record{Prompt: prompts.Value(i)}

			start, end := tokens.ValueOffsets(i)
			rec.Tokens = make([]string, 0, end-start)
			for j := start; j < end; j++ {
				rec.Tokens = append(rec.Tokens, tokenValues.Value(int(j)))
			}

			ss, _ := shapes.ValueOffsets(i)
			shape := shapeValues.Int32Values()[ss : ss+4]

			start, end = attn.ValueOffsets(i)
			data, err := listFloats(attn.ListValues(), int(start), int(end), bf16)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", groups.Value(i), langs.Value(i), err)
			}
			t, err := attention.NewTensor(int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3]), data)
			if err != nil {
				return nil, &attention.Error{Kind: attention.KindShapeMismatch,
					Detail: fmt.Sprintf("%s/%s: %v", groups.Value(i), langs.Value(i), err)}
			}
			rec.Attention = t
			s.Put(groups.Value(i), lang, rec)
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return s, nil
}

func listFloats(values arrow.Array, start, end int, bf16 bool) ([]float32, error) {
	out := make([]float32, end-start)
	switch v := values.(type) {
	case *array.Float32:
		copy(out, v.Float32Values()[start:end])
	case *array.Float64:
		for i, f := range v.Float64Values()[start:end] {
			out[i] = float32(f)
		}
	case *array.Float16:
		for i, f := range v.Values()[start:end] {
			out[i] = f.Float32()
		}
	case *array.Uint16:
		if !bf16 {
			return nil, fmt.Errorf("uint16 attention values without dtype=%s", BFloat16)
		}
		out = bf16ToFloat32(v.Uint16Values()[start:end])
	default:
		return nil, fmt.Errorf("unsupported attention element type %s", values.DataType())
	}
	return out, nil
}

// WriteOutputsArrow encodes o as an Arrow IPC stream.
func WriteOutputsArrow(w io.Writer, o *attention.OutputStore) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, OutputSchema)
	defer b.Release()

	for _, group := range sortedKeys(o.Responses) {
		for _, lang := range attention.Languages {
			text, ok := o.Responses[group][lang]
			if !ok {
				continue
			}
			b.Field(0).(*array.StringBuilder).Append(group)
			b.Field(1).(*array.StringBuilder).Append(lang.Key())
			b.Field(2).(*array.StringBuilder).Append(text)
		}
	}
	batch := b.NewRecord()
	defer batch.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(OutputSchema), ipc.WithAllocator(mem))
	if err := iw.Write(batch); err != nil {
		iw.Close()
		return fmt.Errorf("write outputs: %w", err)
	}
	return iw.Close()
}

// ReadOutputsArrow decodes an output artifact.
func ReadOutputsArrow(r io.Reader) (*attention.OutputStore, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	idx, err := columnIndices(rdr.Schema(), "group", "language", "response")
	if err != nil {
		return nil, err
	}
	o := attention.NewOutputStore()
	for rdr.Next() {
		batch := rdr.Record()
		groups, ok1 := batch.Column(idx[0]).(*array.String)
		langs, ok2 := batch.Column(idx[1]).(*array.String)
		texts, ok3 := batch.Column(idx[2]).(*array.String)
		if !(ok1 && ok2 && ok3) {
			return nil, fmt.Errorf("output artifact has unexpected column types")
		}
		for i := 0; i < int(batch.NumRows()); i++ {
			lang, err := attention.ParseLanguage(langs.Value(i))
			if err != nil {
				return nil, err
			}
			o.Put(groups.Value(i), lang, texts.Value(i))
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return o, nil
}

func columnIndices(schema *arrow.Schema, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		found := schema.FieldIndices(name)
		if len(found) == 0 {
			return nil, fmt.Errorf("artifact schema missing column %q", name)
		}
		idx[i] = found[0]
	}
	return idx, nil
}
