package artifact

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the element encoding of a stored attention tensor.
type DType string

const (
	Float32  DType = "float32"
	Float64  DType = "float64"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
)

func ParseDType(s string) (DType, error) {
	switch DType(strings.ToLower(s)) {
	case "", Float32, "f32":
		return Float32, nil
	case Float64, "f64":
		return Float64, nil
	case Float16, "f16", "half":
		return Float16, nil
	case BFloat16, "bf16":
		return BFloat16, nil
	}
	return "", fmt.Errorf("unsupported dtype %q", s)
}

func (d DType) size() int {
	switch d {
	case Float16, BFloat16:
		return 2
	case Float64:
		return 8
	}
	return 4
}

// decodeLE converts little-endian packed values to float32.
func decodeLE(d DType, b []byte) ([]float32, error) {
	if len(b)%d.size() != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %s values", len(b), d)
	}
	n := len(b) / d.size()
	switch d {
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out, nil
	case Float64:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
		}
		return out, nil
	case Float16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
		return out, nil
	case BFloat16:
		return bfloat16.DecodeFloat32(b), nil
	}
	return nil, fmt.Errorf("unsupported dtype %q", d)
}

// encodeLE packs float32 values little-endian. bfloat16 truncates the low
// mantissa bits.
func encodeLE(d DType, v []float32) ([]byte, error) {
	b := make([]byte, len(v)*d.size())
	switch d {
	case Float32:
		for i, f := range v {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
		}
	case Float64:
		for i, f := range v {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(float64(f)))
		}
	case Float16:
		for i, f := range v {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(f).Bits())
		}
	case BFloat16:
		for i, f := range v {
			binary.LittleEndian.PutUint16(b[i*2:], bf16Bits(f))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", d)
	}
	return b, nil
}

func bf16Bits(f float32) uint16 {
	return uint16(math.Float32bits(f) >> 16)
}

// bf16ToFloat32 widens raw bfloat16 words.
func bf16ToFloat32(u []uint16) []float32 {
	b := make([]byte, len(u)*2)
	for i, w := range u {
		binary.LittleEndian.PutUint16(b[i*2:], w)
	}
	return bfloat16.DecodeFloat32(b)
}
