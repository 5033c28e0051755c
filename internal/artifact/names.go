package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by sources when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Format is the on-disk encoding of an artifact.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatArrow Format = "arrow"
	FormatCBOR  Format = "cbor"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatArrow, "ipc":
		return FormatArrow, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("unknown artifact format %q (want auto, arrow or cbor)", s)
}

// Candidates lists the concrete formats to try, in order.
func (f Format) Candidates() []Format {
	if f == FormatAuto || f == "" {
		return []Format{FormatArrow, FormatCBOR}
	}
	return []Format{f}
}

const (
	attentionPrefix = "attention_data_"
	outputPrefix    = "output_data_"
)

// AttentionName is the artifact holding attention weights for model.
func AttentionName(model string, f Format) string {
	return attentionPrefix + model + "." + string(f)
}

// OutputName is the artifact holding generated responses for model.
func OutputName(model string, f Format) string {
	return outputPrefix + model + "." + string(f)
}

// Describe splits an artifact name into its kind ("attention" or "output"),
// model id and format. ok is false for anything that is not an artifact name,
// including names with path separators.
func Describe(name string) (kind, model string, f Format, ok bool) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", "", "", false
	}
	ext := filepath.Ext(name)
	switch Format(strings.TrimPrefix(ext, ".")) {
	case FormatArrow:
		f = FormatArrow
	case FormatCBOR:
		f = FormatCBOR
	default:
		return "", "", "", false
	}
	base := strings.TrimSuffix(name, ext)
	switch {
	case strings.HasPrefix(base, attentionPrefix):
		kind, model = "attention", strings.TrimPrefix(base, attentionPrefix)
	case strings.HasPrefix(base, outputPrefix):
		kind, model = "output", strings.TrimPrefix(base, outputPrefix)
	default:
		return "", "", "", false
	}
	if model == "" {
		return "", "", "", false
	}
	return kind, model, f, true
}

// ValidModel reports whether id can name an artifact: non-empty, with no
// path separators or "..".
func ValidModel(id string) bool {
	_, model, _, ok := Describe(AttentionName(id, FormatArrow))
	return ok && model == id
}

// DataDir resolves the directory artifacts are read from: an explicit value
// wins, then $ATTNSCOPE_DATA, then ~/.attnscope/data when it exists, then the
// working directory.
func DataDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("ATTNSCOPE_DATA"); env != "" {
		return env, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".attnscope", "data")
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	return os.Getwd()
}
