package attention

import "fmt"

// Selection identifies one attention slice. It is a value type and never
// modified after construction.
type Selection struct {
	Model    string   `json:"model"`
	Group    string   `json:"group"`
	Language Language `json:"language"`
	Layer    int      `json:"layer"`
	Head     int      `json:"head"`
}

func (s Selection) String() string {
	return fmt.Sprintf("%s/%s/%s L%d H%d", s.Model, s.Group, s.Language, s.Layer, s.Head)
}

// Result is everything the presentation layer needs for one selection.
type Result struct {
	Selection Selection `json:"selection"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Tokens    []string  `json:"tokens"`
	// PerToken is the last token's attention row over the real tokens,
	// normalized to sum to 1 unless the raw row sums to zero.
	PerToken []float64 `json:"per_token_attention"`
	// Matrix is the unnormalized len(Tokens) x len(Tokens) block.
	Matrix [][]float64 `json:"full_matrix"`
	// RawRowSum is the sum of the truncated last row before normalization.
	RawRowSum float64 `json:"raw_row_sum"`
	// Degenerate is set when the row was passed through unnormalized.
	Degenerate bool `json:"degenerate"`
}

// Extract resolves sel against store and derives the per-token attention of
// the final token plus the token-bounded square matrix. outputs may be nil.
//
// Positions past len(tokens) are padding from the fixed context length the
// weights were captured at; they never contribute to the result.
func Extract(store *Store, outputs *OutputStore, sel Selection) (*Result, error) {
	if store == nil {
		return nil, &Error{Kind: KindGroupNotFound, Detail: sel.Group}
	}
	langs, ok := store.Groups[sel.Group]
	if !ok {
		return nil, &Error{Kind: KindGroupNotFound, Detail: sel.Group, Choices: store.GroupNames()}
	}
	rec, ok := langs[sel.Language]
	if !ok || rec == nil {
		var present []string
		for _, l := range store.LanguagesOf(sel.Group) {
			present = append(present, l.String())
		}
		return nil, &Error{Kind: KindLanguageNotFound, Detail: sel.Language.String(), Choices: present}
	}

	m, err := rec.headMatrix(sel.Layer, sel.Head)
	if err != nil {
		return nil, err
	}

	n := len(rec.Tokens)
	if n == 0 {
		return nil, shapeError("record %s/%s has no tokens", sel.Group, sel.Language)
	}
	if m.Rows < n || m.Cols < n {
		return nil, shapeError("%d tokens exceed attention slice %dx%d", n, m.Rows, m.Cols)
	}
	if len(m.Data) < m.Rows*m.Cols {
		return nil, shapeError("attention slice %dx%d backed by %d values", m.Rows, m.Cols, len(m.Data))
	}

	row, sum := lastRow(m, n)
	degenerate := !(sum > 0)
	if !degenerate {
		for i := range row {
			row[i] /= sum
		}
	}

	res := &Result{
		Selection:  sel,
		Prompt:     rec.Prompt,
		Tokens:     append([]string(nil), rec.Tokens...),
		PerToken:   row,
		Matrix:     squareBlock(m, n),
		RawRowSum:  sum,
		Degenerate: degenerate,
	}
	res.Response, _ = outputs.Response(sel.Group, sel.Language)
	return res, nil
}

// lastRow copies row n-1 truncated to n columns and returns it with its sum.
func lastRow(m Matrix, n int) ([]float64, float64) {
	src := m.Row(n - 1)[:n]
	row := make([]float64, n)
	var sum float64
	for i, v := range src {
		row[i] = float64(v)
		sum += row[i]
	}
	return row, sum
}

func squareBlock(m Matrix, n int) [][]float64 {
	out := make([][]float64, n)
	backing := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i] = backing[i*n : (i+1)*n : (i+1)*n]
		for j, v := range m.Row(i)[:n] {
			out[i][j] = float64(v)
		}
	}
	return out
}
