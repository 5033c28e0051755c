package render

import (
	"fmt"
	"math"
)

// Color is an RGB triple with channels in [0, 1].
type Color struct {
	R, G, B float64
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func channel(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

// ANSI returns a 24-bit background escape sequence for c.
func (c Color) ANSI() string {
	return fmt.Sprintf("\x1b[48;2;%d;%d;%dm", channel(c.R), channel(c.G), channel(c.B))
}

// ANSIReset ends an ANSI color run.
const ANSIReset = "\x1b[0m"

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// Colormap is a linear segmented map sampled into a fixed number of levels.
type Colormap struct {
	lut []Color
}

// NewColormap spreads stops evenly over [0, 1] and samples n levels.
func NewColormap(n int, stops ...Color) *Colormap {
	if n < 2 {
		n = 2
	}
	lut := make([]Color, n)
	segs := float64(len(stops) - 1)
	for i := range lut {
		x := float64(i) / float64(n-1)
		if len(stops) == 1 {
			lut[i] = stops[0]
			continue
		}
		pos := x * segs
		k := int(pos)
		if k >= len(stops)-1 {
			lut[i] = stops[len(stops)-1]
			continue
		}
		f := pos - float64(k)
		a, b := stops[k], stops[k+1]
		lut[i] = Color{
			R: a.R + (b.R-a.R)*f,
			G: a.G + (b.G-a.G)*f,
			B: a.B + (b.B-a.B)*f,
		}
	}
	return &Colormap{lut: lut}
}

// AttentionColormap runs white to red in 100 levels.
func AttentionColormap() *Colormap {
	return NewColormap(100,
		Color{1, 1, 1},
		Color{1, 0.8, 0.8},
		Color{1, 0.6, 0.6},
		Color{1, 0.4, 0.4},
		Color{1, 0, 0},
	)
}

func (m *Colormap) Levels() int { return len(m.lut) }

// At maps v in [0, 1] to a level; values outside clamp to the ends.
func (m *Colormap) At(v float64) Color {
	n := len(m.lut)
	if math.IsNaN(v) || v <= 0 {
		return m.lut[0]
	}
	i := int(v * float64(n))
	if i >= n {
		i = n - 1
	}
	return m.lut[i]
}

// Heatmap colors a matrix scaled to its own value range. A constant matrix
// maps to the lowest level.
func (m *Colormap) Heatmap(matrix [][]float64) [][]Color {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range matrix {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	out := make([][]Color, len(matrix))
	for i, row := range matrix {
		out[i] = make([]Color, len(row))
		for j, v := range row {
			scaled := 0.0
			if hi > lo {
				scaled = (v - lo) / (hi - lo)
			}
			out[i][j] = m.At(scaled)
		}
	}
	return out
}
