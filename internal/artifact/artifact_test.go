package artifact

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/attnscope/internal/attention"
)

func sampleStore(t *testing.T) (*attention.Store, *attention.OutputStore) {
	t.Helper()
	// values exactly representable in float16 and bfloat16
	data := make([]float32, 2*2*4*4)
	for i := range data {
		data[i] = float32(i%8) * 0.125
	}
	tensor, err := attention.NewTensor(2, 2, 4, 4, data)
	require.NoError(t, err)

	s := attention.NewStore()
	s.Put("trio1", attention.Primary, &attention.Record{
		Prompt: "Can you help me", Tokens: []string{"Can", "you", "help"}, Attention: tensor,
	})
	s.Put("trio2", attention.Secondary, &attention.Record{
		Prompt: "क्या", Tokens: []string{"क्या", "आप"}, Attention: tensor,
	})
	o := attention.NewOutputStore()
	o.Put("trio1", attention.Primary, "Of course.")
	o.Put("trio2", attention.Secondary, "हाँ")
	return s, o
}

func assertSameStore(t *testing.T, want, got *attention.Store) {
	t.Helper()
	require.Equal(t, want.GroupNames(), got.GroupNames())
	for _, g := range want.GroupNames() {
		require.Equal(t, want.LanguagesOf(g), got.LanguagesOf(g))
		for _, l := range want.LanguagesOf(g) {
			w, _ := want.Record(g, l)
			r, _ := got.Record(g, l)
			assert.Equal(t, w.Prompt, r.Prompt)
			assert.Equal(t, w.Tokens, r.Tokens)
			wt, err := denseTensor(w)
			require.NoError(t, err)
			rt, err := denseTensor(r)
			require.NoError(t, err)
			assert.Equal(t, wt.Shape, rt.Shape)
			assert.Equal(t, wt.Data, rt.Data)
		}
	}
}

func TestArrowAttentionRoundTrip(t *testing.T) {
	s, _ := sampleStore(t)
	for _, dt := range []DType{Float32, Float64, Float16, BFloat16} {
		t.Run(string(dt), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteAttentionArrow(&buf, s, dt))
			got, err := ReadAttentionArrow(&buf)
			require.NoError(t, err)
			assertSameStore(t, s, got)
		})
	}
}

func TestCBORAttentionLayouts(t *testing.T) {
	s, _ := sampleStore(t)
	for _, positional := range []bool{false, true} {
		for _, dt := range []DType{Float32, Float16, BFloat16} {
			var buf bytes.Buffer
			require.NoError(t, WriteAttentionCBOR(&buf, s, CBOROptions{DType: dt, Positional: positional}))
			got, err := ReadAttentionCBOR(&buf)
			require.NoError(t, err)
			assertSameStore(t, s, got)

			rec, _ := got.Record("trio1", attention.Primary)
			if positional {
				assert.Nil(t, rec.Attention)
				assert.Len(t, rec.Layers, 2)
			} else {
				assert.NotNil(t, rec.Attention)
				assert.Nil(t, rec.Layers)
			}
		}
	}
}

func TestCBORNestedArrays(t *testing.T) {
	raw := map[string]map[string]map[any]any{
		"trio1": {
			"hinglish": {
				"prompt":  "Kya aap",
				"tokens":  []string{"Kya", "aap"},
				uint64(0): [][][]float64{{{1, 0}, {0.25, 0.75}}},
			},
			"english": {
				"prompt":    "Will you",
				"tokens":    []string{"Will", "you"},
				"attention": [][][][]float64{{{{1, 0}, {0.5, 0.5}}}},
			},
		},
	}
	var buf bytes.Buffer
	b, err := cbor.Marshal(raw)
	require.NoError(t, err)
	buf.Write(b)

	s, err := ReadAttentionCBOR(&buf)
	require.NoError(t, err)

	res, err := attention.Extract(s, nil, attention.Selection{Group: "trio1", Language: attention.CodeMixed})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75}, res.PerToken)

	res, err = attention.Extract(s, nil, attention.Selection{Group: "trio1", Language: attention.Primary})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, res.PerToken)
}

func TestCBORNestedLayersWithoutHeads(t *testing.T) {
	raw := map[string]map[string]map[any]any{
		"trio1": {"english": {
			"tokens":    []string{"a"},
			"attention": [][][][]float64{{}, {}, {}},
		}},
	}
	b, err := cbor.Marshal(raw)
	require.NoError(t, err)
	s, err := ReadAttentionCBOR(bytes.NewReader(b))
	require.NoError(t, err)

	rec, ok := s.Record("trio1", attention.Primary)
	require.True(t, ok)
	require.NotNil(t, rec.Attention)
	assert.Equal(t, [4]int{3, 0, 0, 0}, rec.Attention.Shape)

	_, err = attention.Extract(s, nil, attention.Selection{Group: "trio1", Language: attention.Primary, Layer: 5})
	var ae *attention.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "layer", ae.Axis)
	assert.Equal(t, 3, ae.Bound)

	_, err = attention.Extract(s, nil, attention.Selection{Group: "trio1", Language: attention.Primary, Layer: 1})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "head", ae.Axis)
	assert.Equal(t, 0, ae.Bound)
}

func TestCBORRaggedIsShapeMismatch(t *testing.T) {
	raw := map[string]map[string]map[any]any{
		"trio1": {"english": {
			"tokens":    []string{"a"},
			"attention": [][][][]float64{{{{1, 0}, {0.5}}}},
		}},
	}
	b, err := cbor.Marshal(raw)
	require.NoError(t, err)
	_, err = ReadAttentionCBOR(bytes.NewReader(b))
	assert.ErrorIs(t, err, attention.ErrShapeMismatch)
}

func TestOutputsRoundTrip(t *testing.T) {
	_, o := sampleStore(t)
	for _, f := range []Format{FormatArrow, FormatCBOR} {
		var buf bytes.Buffer
		require.NoError(t, EncodeOutputs(f, &buf, o))
		got, err := DecodeOutputs(f, &buf)
		require.NoError(t, err)
		assert.Equal(t, o.Responses, got.Responses, string(f))
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "attention_data_gemma2.arrow", AttentionName("gemma2", FormatArrow))
	assert.Equal(t, "output_data_Llama3.2.cbor", OutputName("Llama3.2", FormatCBOR))

	kind, model, f, ok := Describe("attention_data_Llama3.2.arrow")
	require.True(t, ok)
	assert.Equal(t, "attention", kind)
	assert.Equal(t, "Llama3.2", model)
	assert.Equal(t, FormatArrow, f)

	for _, bad := range []string{"", "../attention_data_x.arrow", "notes.txt", "attention_data_.cbor", "output_data_x.pkl"} {
		_, _, _, ok := Describe(bad)
		assert.False(t, ok, bad)
	}

	for _, id := range []string{"gemma2", "Llama3.2", "my-model_v2"} {
		assert.True(t, ValidModel(id), id)
	}
	for _, id := range []string{"", "a/b", "..", `a\b`, "../gemma2"} {
		assert.False(t, ValidModel(id), id)
	}

	assert.Equal(t, []Format{FormatArrow, FormatCBOR}, FormatAuto.Candidates())
	_, err := ParseFormat("pickle")
	assert.Error(t, err)
}

func TestDataDir(t *testing.T) {
	dir, err := DataDir("/explicit")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", dir)

	t.Setenv("ATTNSCOPE_DATA", "/from/env")
	dir, err = DataDir("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", dir)
}
