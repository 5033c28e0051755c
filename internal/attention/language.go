package attention

import (
	"fmt"
	"strings"
)

// Language is one of the three renderings of the same prompt.
type Language int

const (
	Primary Language = iota
	Secondary
	CodeMixed
)

// Languages lists every variant in display order.
var Languages = []Language{Primary, Secondary, CodeMixed}

var languageNames = [...]string{
	Primary:   "primary",
	Secondary: "secondary",
	CodeMixed: "code-mixed",
}

// Artifacts written by the inference runs key variants by these names.
var languageKeys = [...]string{
	Primary:   "english",
	Secondary: "hindi",
	CodeMixed: "hinglish",
}

func (l Language) String() string {
	if l < 0 || int(l) >= len(languageNames) {
		return fmt.Sprintf("language(%d)", int(l))
	}
	return languageNames[l]
}

// Key returns the name the variant is stored under in artifacts.
func (l Language) Key() string {
	if l < 0 || int(l) >= len(languageKeys) {
		return ""
	}
	return languageKeys[l]
}

func (l Language) valid() bool {
	return l >= 0 && int(l) < len(languageNames)
}

// ParseLanguage accepts either the variant name or the artifact key,
// case-insensitively.
func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range Languages {
		if s == languageNames[l] || s == languageKeys[l] {
			return l, nil
		}
	}
	switch s {
	case "codemixed", "code_mixed", "mixed":
		return CodeMixed, nil
	}
	return 0, fmt.Errorf("unknown language %q (want one of primary, secondary, code-mixed)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Language) MarshalText() ([]byte, error) {
	if !l.valid() {
		return nil, fmt.Errorf("invalid language %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Language) UnmarshalText(b []byte) error {
	v, err := ParseLanguage(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
