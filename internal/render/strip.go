package render

import "unicode/utf8"

const (
	cellPad   = 0.2
	cellScale = 0.1
	cellGap   = 0.05
)

// Cell is one token of the attention strip.
type Cell struct {
	Token  string  `json:"token"`
	Weight float64 `json:"weight"`
	X      float64 `json:"x"`
	Width  float64 `json:"width"`
	Color  Color   `json:"color"`
}

// TokenStrip lays tokens out left to right, shading each by its weight.
// The second return value is the total strip width.
func TokenStrip(tokens []string, weights []float64) ([]Cell, float64) {
	cells := make([]Cell, 0, len(tokens))
	x := 0.0
	for i, tok := range tokens {
		var w float64
		if i < len(weights) {
			w = weights[i]
		}
		width := float64(utf8.RuneCountInString(tok))*cellScale + cellPad
		cells = append(cells, Cell{
			Token:  tok,
			Weight: w,
			X:      x,
			Width:  width,
			Color:  Color{R: 1, G: 1 - w, B: 1 - w},
		})
		x += width + cellGap
	}
	return cells, x
}
