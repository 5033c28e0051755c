package render

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/attnscope/internal/attention"
)

func TestAttentionColormap(t *testing.T) {
	cm := AttentionColormap()
	assert.Equal(t, 100, cm.Levels())

	assert.Equal(t, "#ffffff", cm.At(0).Hex())
	assert.Equal(t, "#ff0000", cm.At(1).Hex())
	assert.Equal(t, "#ff0000", cm.At(2).Hex())
	assert.Equal(t, "#ffffff", cm.At(-1).Hex())
	assert.Equal(t, "#ffffff", cm.At(math.NaN()).Hex())

	// the midpoint falls on the third stop
	mid := cm.At(0.5)
	assert.Equal(t, 1.0, mid.R)
	assert.InDelta(t, 0.6, mid.G, 0.01)
	assert.InDelta(t, mid.G, mid.B, 1e-12)

	// red channel stays saturated, green falls monotonically
	prev := 2.0
	for i := 0; i <= 100; i++ {
		c := cm.At(float64(i) / 100)
		assert.Equal(t, 1.0, c.R)
		assert.LessOrEqual(t, c.G, prev)
		prev = c.G
	}
}

func TestHeatmapScalesToRange(t *testing.T) {
	cm := AttentionColormap()
	cells := cm.Heatmap([][]float64{{0.2, 0.4}, {0.6, 0.2}})
	assert.Equal(t, "#ffffff", cells[0][0].Hex())
	assert.Equal(t, "#ff0000", cells[1][0].Hex())

	flat := cm.Heatmap([][]float64{{0, 0}, {0, 0}})
	assert.Equal(t, "#ffffff", flat[1][1].Hex())
}

func TestTokenStrip(t *testing.T) {
	cells, width := TokenStrip([]string{"Will", "you", "help", "me"}, []float64{0.1, 0.2, 0.3, 0.4})
	require.Len(t, cells, 4)

	assert.InDelta(t, 0.6, cells[0].Width, 1e-12)
	assert.InDelta(t, 0.0, cells[0].X, 1e-12)
	assert.InDelta(t, 0.65, cells[1].X, 1e-12)
	assert.InDelta(t, 0.4, cells[3].Width, 1e-12)
	assert.InDelta(t, 0.6+0.5+0.6+0.4+4*0.05, width, 1e-12)

	assert.Equal(t, Color{R: 1, G: 0.6, B: 0.6}, cells[3].Color)
	assert.Equal(t, "#ff9999", cells[3].Color.Hex())

	// Devanagari tokens are measured in characters, not bytes.
	cells, _ = TokenStrip([]string{"मदद"}, []float64{1})
	assert.InDelta(t, 0.5, cells[0].Width, 1e-12)
	assert.Equal(t, "#ff0000", cells[0].Color.Hex())
}

func TestTokenStripZeroWeights(t *testing.T) {
	cells, _ := TokenStrip([]string{"a", "b"}, []float64{0, 0})
	for _, c := range cells {
		assert.Equal(t, "#ffffff", c.Color.Hex())
	}
}

func TestFontResolver(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "NotoSansDevanagari-Regular.ttf")
	bold := filepath.Join(dir, "NotoSansDevanagari-Bold.ttf")

	r := NewFontResolver([]string{missing, bold})
	assert.False(t, r.Available())
	assert.Nil(t, r.ForLanguage(attention.Secondary))

	require.NoError(t, os.WriteFile(bold, []byte("ttf"), 0o644))
	r = NewFontResolver([]string{missing, bold})
	require.True(t, r.Available())

	f := r.ForLanguage(attention.Secondary)
	require.NotNil(t, f)
	assert.Equal(t, bold, f.Path)
	assert.Equal(t, "Noto Sans Devanagari", f.Family)

	assert.Nil(t, r.ForLanguage(attention.Primary))
	assert.Nil(t, r.ForLanguage(attention.CodeMixed))
}

func TestDefaultFontPaths(t *testing.T) {
	paths := DefaultFontPaths()
	assert.NotEmpty(t, paths)
	assert.Contains(t, paths, filepath.Join("/usr/share/fonts/truetype/noto", "NotoSansDevanagari-Regular.ttf"))
}

func TestANSI(t *testing.T) {
	assert.Equal(t, "\x1b[48;2;255;0;0m", Color{R: 1}.ANSI())
}
