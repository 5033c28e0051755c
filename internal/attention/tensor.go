package attention

import "fmt"

// Tensor is a dense row-major float32 array shaped
// [layers, heads, query positions, key positions].
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewTensor wraps data with the given shape. The data length must match.
func NewTensor(layers, heads, queries, keys int, data []float32) (*Tensor, error) {
	if layers < 0 || heads < 0 || queries < 0 || keys < 0 {
		return nil, fmt.Errorf("negative tensor dimension [%d %d %d %d]", layers, heads, queries, keys)
	}
	want := layers * heads * queries * keys
	if len(data) != want {
		return nil, fmt.Errorf("tensor data has %d elements, shape [%d %d %d %d] needs %d",
			len(data), layers, heads, queries, keys, want)
	}
	return &Tensor{Shape: [4]int{layers, heads, queries, keys}, Data: data}, nil
}

func (t *Tensor) Layers() int { return t.Shape[0] }
func (t *Tensor) Heads() int  { return t.Shape[1] }

// Head returns the [query][key] matrix for one (layer, head) pair as a view
// into the tensor's storage.
func (t *Tensor) Head(layer, head int) (Matrix, error) {
	if layer < 0 || layer >= t.Shape[0] {
		return Matrix{}, indexError("layer", layer, t.Shape[0])
	}
	if head < 0 || head >= t.Shape[1] {
		return Matrix{}, indexError("head", head, t.Shape[1])
	}
	q, k := t.Shape[2], t.Shape[3]
	off := (layer*t.Shape[1] + head) * q * k
	return Matrix{Rows: q, Cols: k, Data: t.Data[off : off+q*k]}, nil
}

// Matrix is a row-major float32 view.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix builds a matrix from rectangular rows.
func NewMatrix(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return Matrix{Rows: len(rows), Cols: cols, Data: data}, nil
}

func (m Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Row returns row i as a view.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}
