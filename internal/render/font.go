package render

import (
	"os"
	"path/filepath"

	"github.com/23skdu/attnscope/internal/attention"
)

// Font is a resolved font file for the secondary language's script.
type Font struct {
	Family string `json:"family"`
	Path   string `json:"path"`
}

const devanagariFamily = "Noto Sans Devanagari"

var fontFiles = []string{
	"NotoSansDevanagari-Regular.ttf",
	"NotoSansDevanagari-Bold.ttf",
}

// DefaultFontPaths lists the usual install locations of the Devanagari font.
func DefaultFontPaths() []string {
	dirs := []string{
		"/usr/share/fonts/truetype/noto",
		"/usr/share/fonts/noto",
		"/usr/local/share/fonts",
		"/Library/Fonts",
		"fonts",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".local", "share", "fonts"),
			filepath.Join(home, "Library", "Fonts"),
			filepath.Join(home, ".attnscope", "fonts"),
		)
	}
	var paths []string
	for _, d := range dirs {
		for _, f := range fontFiles {
			paths = append(paths, filepath.Join(d, f))
		}
	}
	return paths
}

// FontResolver picks the first existing candidate file.
type FontResolver struct {
	font *Font
}

func NewFontResolver(candidates []string) *FontResolver {
	r := &FontResolver{}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			r.font = &Font{Family: devanagariFamily, Path: p}
			break
		}
	}
	return r
}

func (r *FontResolver) Available() bool { return r.font != nil }

// ForLanguage returns the font for secondary-language text, or nil when the
// language needs no special font or none was found.
func (r *FontResolver) ForLanguage(lang attention.Language) *Font {
	if lang != attention.Secondary || r.font == nil {
		return nil
	}
	f := *r.font
	return &f
}
