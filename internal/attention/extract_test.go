package attention

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paddedTensor builds a [layers][heads][ctx][ctx] tensor where every head
// holds the same matrix produced by fill.
func paddedTensor(t *testing.T, layers, heads, ctx int, fill func(q, k int) float32) *Tensor {
	t.Helper()
	data := make([]float32, layers*heads*ctx*ctx)
	for l := 0; l < layers; l++ {
		for h := 0; h < heads; h++ {
			base := (l*heads + h) * ctx * ctx
			for q := 0; q < ctx; q++ {
				for k := 0; k < ctx; k++ {
					data[base+q*ctx+k] = fill(q, k)
				}
			}
		}
	}
	tensor, err := NewTensor(layers, heads, ctx, ctx, data)
	require.NoError(t, err)
	return tensor
}

func exampleStore(t *testing.T) (*Store, *OutputStore) {
	t.Helper()
	lastRow := []float32{0.1, 0.2, 0.3, 0.4, 0, 0, 0, 0}
	tensor := paddedTensor(t, 26, 8, 8, func(q, k int) float32 {
		if q == 3 {
			return lastRow[k]
		}
		if q > 3 || k > 3 {
			return 9 // padding noise must never leak into results
		}
		return float32(q*10 + k)
	})

	s := NewStore()
	s.Put("trio1", CodeMixed, &Record{
		Prompt:    "Will you help me",
		Tokens:    []string{"Will", "you", "help", "me"},
		Attention: tensor,
	})
	o := NewOutputStore()
	o.Put("trio1", CodeMixed, "Sure.")
	return s, o
}

func TestExtract_ExampleRowAlreadyNormalized(t *testing.T) {
	s, o := exampleStore(t)

	res, err := Extract(s, o, Selection{Model: "gemma2", Group: "trio1", Language: CodeMixed, Layer: 6, Head: 0})
	require.NoError(t, err)

	want := []float64{0.1, 0.2, 0.3, 0.4}
	require.Len(t, res.PerToken, 4)
	for i := range want {
		assert.InDelta(t, want[i], res.PerToken[i], 1e-6, "token %d", i)
	}
	assert.False(t, res.Degenerate)
	assert.InDelta(t, 1.0, res.RawRowSum, 1e-6)
	assert.Equal(t, "Sure.", res.Response)
	assert.Equal(t, "Will you help me", res.Prompt)
	assert.Equal(t, []string{"Will", "you", "help", "me"}, res.Tokens)
}

func TestExtract_MatrixIsTokenBoundedAndUnnormalized(t *testing.T) {
	s, o := exampleStore(t)

	res, err := Extract(s, o, Selection{Group: "trio1", Language: CodeMixed, Layer: 0, Head: 7})
	require.NoError(t, err)

	require.Len(t, res.Matrix, 4)
	for i, row := range res.Matrix {
		require.Len(t, row, 4, "row %d", i)
		for j, v := range row {
			assert.NotEqual(t, 9.0, v, "padding leaked at (%d,%d)", i, j)
		}
	}
	assert.Equal(t, 12.0, res.Matrix[1][2])
	assert.InDelta(t, 0.4, res.Matrix[3][3], 1e-6)
}

func TestExtract_NormalizesPositiveRow(t *testing.T) {
	tensor := paddedTensor(t, 1, 1, 6, func(q, k int) float32 {
		if q == 2 && k < 3 {
			return float32(k + 1) // 1, 2, 3
		}
		return 5
	})
	s := NewStore()
	s.Put("g", Primary, &Record{Tokens: []string{"a", "b", "c"}, Attention: tensor})

	res, err := Extract(s, nil, Selection{Group: "g", Language: Primary})
	require.NoError(t, err)

	var sum float64
	for _, v := range res.PerToken {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 1.0/6, res.PerToken[0], 1e-9)
	assert.InDelta(t, 0.5, res.PerToken[2], 1e-9)
	assert.Equal(t, 6.0, res.RawRowSum)
	assert.Equal(t, "", res.Response)
}

func TestExtract_ZeroRowPassesThrough(t *testing.T) {
	tensor := paddedTensor(t, 1, 1, 8, func(q, k int) float32 {
		if q == 3 && k < 4 {
			return 0
		}
		return 0.7
	})
	s := NewStore()
	s.Put("g", Secondary, &Record{Tokens: []string{"a", "b", "c", "d"}, Attention: tensor})

	res, err := Extract(s, nil, Selection{Group: "g", Language: Secondary})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, res.PerToken)
	assert.True(t, res.Degenerate)
	assert.Equal(t, 0.0, res.RawRowSum)
}

func TestExtract_PositionalFallback(t *testing.T) {
	m, err := NewMatrix([][]float32{
		{1, 0, 0},
		{0.5, 0.5, 0},
		{0.2, 0.2, 0.6},
	})
	require.NoError(t, err)
	zero, err := NewMatrix([][]float32{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}})
	require.NoError(t, err)

	s := NewStore()
	s.Put("g", CodeMixed, &Record{
		Tokens: []string{"x", "y"},
		Layers: [][]Matrix{{zero, zero}, {zero, m}},
	})

	res, err := Extract(s, nil, Selection{Group: "g", Language: CodeMixed, Layer: 1, Head: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, res.PerToken)
	assert.Equal(t, [][]float64{{1, 0}, {0.5, 0.5}}, res.Matrix)

	_, err = Extract(s, nil, Selection{Group: "g", Language: CodeMixed, Layer: 2})
	assertIndexErr(t, err, "layer", 2, 2)
	_, err = Extract(s, nil, Selection{Group: "g", Language: CodeMixed, Layer: 0, Head: 5})
	assertIndexErr(t, err, "head", 5, 2)
}

func TestExtract_NamedFormWinsOverPositional(t *testing.T) {
	named := paddedTensor(t, 1, 1, 2, func(q, k int) float32 { return 1 })
	other, err := NewMatrix([][]float32{{0, 0}, {0, 1}})
	require.NoError(t, err)

	s := NewStore()
	s.Put("g", Primary, &Record{
		Tokens:    []string{"a", "b"},
		Attention: named,
		Layers:    [][]Matrix{{other}},
	})
	res, err := Extract(s, nil, Selection{Group: "g", Language: Primary})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, res.PerToken)
}

func TestExtract_Errors(t *testing.T) {
	s, o := exampleStore(t)

	tests := []struct {
		name string
		sel  Selection
		want error
	}{
		{"absent group", Selection{Group: "trio9", Language: CodeMixed}, ErrGroupNotFound},
		{"absent language", Selection{Group: "trio1", Language: Primary}, ErrLanguageNotFound},
		{"layer too large", Selection{Group: "trio1", Language: CodeMixed, Layer: 999}, ErrIndexOutOfRange},
		{"negative head", Selection{Group: "trio1", Language: CodeMixed, Head: -1}, ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(s, o, tt.sel)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := Extract(s, o, Selection{Group: "trio1", Language: CodeMixed, Layer: 999})
	assertIndexErr(t, err, "layer", 999, 26)
	assert.Contains(t, err.Error(), "layer")

	_, err = Extract(nil, nil, Selection{Group: "trio1"})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestExtract_MissReportsPresentChoices(t *testing.T) {
	s, o := exampleStore(t)
	s.Put("trio3", Secondary, &Record{Tokens: []string{"a"}})

	_, err := Extract(s, o, Selection{Group: "trio9", Language: CodeMixed})
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"trio1", "trio3"}, ae.Choices)

	_, err = Extract(s, o, Selection{Group: "trio3", Language: Primary})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindLanguageNotFound, ae.Kind)
	assert.Equal(t, []string{"secondary"}, ae.Choices)
}

func TestExtract_ShapeMismatch(t *testing.T) {
	small := paddedTensor(t, 1, 1, 2, func(q, k int) float32 { return 1 })
	s := NewStore()
	s.Put("g", Primary, &Record{Tokens: []string{"a", "b", "c"}, Attention: small})
	s.Put("g", Secondary, &Record{Tokens: nil, Attention: small})
	s.Put("g", CodeMixed, &Record{Tokens: []string{"a"}})

	for _, lang := range Languages {
		_, err := Extract(s, nil, Selection{Group: "g", Language: lang})
		assert.ErrorIs(t, err, ErrShapeMismatch, lang.String())
		assert.Equal(t, KindShapeMismatch, KindOf(err))
	}
}

func TestExtract_Deterministic(t *testing.T) {
	s, o := exampleStore(t)
	sel := Selection{Group: "trio1", Language: CodeMixed, Layer: 3, Head: 2}

	a, err := Extract(s, o, sel)
	require.NoError(t, err)
	b, err := Extract(s, o, sel)
	require.NoError(t, err)

	require.Equal(t, len(a.PerToken), len(b.PerToken))
	for i := range a.PerToken {
		assert.Equal(t, math.Float64bits(a.PerToken[i]), math.Float64bits(b.PerToken[i]))
	}
	assert.Equal(t, a.Matrix, b.Matrix)

	// Results own their storage.
	a.Matrix[0][0] = -1
	a.Tokens[0] = "changed"
	c, err := Extract(s, o, sel)
	require.NoError(t, err)
	assert.Equal(t, b.Matrix, c.Matrix)
	assert.Equal(t, "Will", c.Tokens[0])
}

func TestExtract_VaryingTokenCounts(t *testing.T) {
	tensor := paddedTensor(t, 2, 2, 16, func(q, k int) float32 { return float32(k%3) + 0.5 })
	s := NewStore()
	for n := 1; n <= 16; n++ {
		tokens := make([]string, n)
		for i := range tokens {
			tokens[i] = "t"
		}
		s.Put("g", Primary, &Record{Tokens: tokens, Attention: tensor})

		res, err := Extract(s, nil, Selection{Group: "g", Language: Primary, Layer: 1, Head: 1})
		require.NoError(t, err)
		assert.Len(t, res.PerToken, n)
		assert.Len(t, res.Matrix, n)
		var sum float64
		for _, v := range res.PerToken {
			assert.True(t, v >= 0 && v <= 1)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func assertIndexErr(t *testing.T, err error, axis string, index, bound int) {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "want *Error, got %v", err)
	assert.Equal(t, KindIndexOutOfRange, e.Kind)
	assert.Equal(t, axis, e.Axis)
	assert.Equal(t, index, e.Index)
	assert.Equal(t, bound, e.Bound)
}
