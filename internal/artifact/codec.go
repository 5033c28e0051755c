package artifact

import (
	"fmt"
	"io"

	"github.com/23skdu/attnscope/internal/attention"
)

// DecodeAttention reads an attention artifact in the given concrete format.
func DecodeAttention(f Format, r io.Reader) (*attention.Store, error) {
	switch f {
	case FormatArrow:
		return ReadAttentionArrow(r)
	case FormatCBOR:
		return ReadAttentionCBOR(r)
	}
	return nil, fmt.Errorf("cannot decode attention artifact as %q", f)
}

// DecodeOutputs reads an output artifact in the given concrete format.
func DecodeOutputs(f Format, r io.Reader) (*attention.OutputStore, error) {
	switch f {
	case FormatArrow:
		return ReadOutputsArrow(r)
	case FormatCBOR:
		return ReadOutputsCBOR(r)
	}
	return nil, fmt.Errorf("cannot decode output artifact as %q", f)
}

// EncodeAttention writes s in the given concrete format.
func EncodeAttention(f Format, w io.Writer, s *attention.Store, dt DType) error {
	switch f {
	case FormatArrow:
		return WriteAttentionArrow(w, s, dt)
	case FormatCBOR:
		return WriteAttentionCBOR(w, s, CBOROptions{DType: dt})
	}
	return fmt.Errorf("cannot encode attention artifact as %q", f)
}

// EncodeOutputs writes o in the given concrete format.
func EncodeOutputs(f Format, w io.Writer, o *attention.OutputStore) error {
	switch f {
	case FormatArrow:
		return WriteOutputsArrow(w, o)
	case FormatCBOR:
		return WriteOutputsCBOR(w, o)
	}
	return fmt.Errorf("cannot encode output artifact as %q", f)
}
