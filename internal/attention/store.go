package attention

import (
	"slices"
)

// Record is one (prompt group, language) entry of an attention artifact.
//
// Two data-generation runs stored the weights differently: the newer one
// under a named attention field (Attention), the older one directly on the
// record indexed by layer then head (Layers). Decoders fill whichever form the
// artifact carries.
type Record struct {
	Prompt    string
	Tokens    []string
	Attention *Tensor
	Layers    [][]Matrix
}

// headMatrix resolves the (layer, head) slice, trying the named form first
// and falling back to the positional one.
func (r *Record) headMatrix(layer, head int) (Matrix, error) {
	if r.Attention != nil {
		return r.Attention.Head(layer, head)
	}
	if r.Layers != nil {
		if layer < 0 || layer >= len(r.Layers) {
			return Matrix{}, indexError("layer", layer, len(r.Layers))
		}
		heads := r.Layers[layer]
		if head < 0 || head >= len(heads) {
			return Matrix{}, indexError("head", head, len(heads))
		}
		return heads[head], nil
	}
	return Matrix{}, shapeError("record carries no attention weights")
}

// Store maps prompt group -> language -> record. It is read-only once loaded.
type Store struct {
	Groups map[string]map[Language]*Record
}

func NewStore() *Store {
	return &Store{Groups: make(map[string]map[Language]*Record)}
}

// Put adds or replaces a record. Only decoders call it, before the store is
// published.
func (s *Store) Put(group string, lang Language, rec *Record) {
	m, ok := s.Groups[group]
	if !ok {
		m = make(map[Language]*Record)
		s.Groups[group] = m
	}
	m[lang] = rec
}

// Record looks up a record.
func (s *Store) Record(group string, lang Language) (*Record, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.Groups[group]
	if !ok {
		return nil, false
	}
	rec, ok := m[lang]
	return rec, ok
}

// GroupNames returns the prompt groups present, sorted.
func (s *Store) GroupNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Groups))
	for g := range s.Groups {
		names = append(names, g)
	}
	slices.Sort(names)
	return names
}

// LanguagesOf returns the languages present under group in display order.
func (s *Store) LanguagesOf(group string) []Language {
	if s == nil {
		return nil
	}
	m := s.Groups[group]
	var out []Language
	for _, l := range Languages {
		if _, ok := m[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.Groups {
		n += len(m)
	}
	return n
}

// OutputStore maps prompt group -> language -> generated response text.
type OutputStore struct {
	Responses map[string]map[Language]string
}

func NewOutputStore() *OutputStore {
	return &OutputStore{Responses: make(map[string]map[Language]string)}
}

func (o *OutputStore) Put(group string, lang Language, text string) {
	m, ok := o.Responses[group]
	if !ok {
		m = make(map[Language]string)
		o.Responses[group] = m
	}
	m[lang] = text
}

// Response returns the generated text, or "" when absent.
func (o *OutputStore) Response(group string, lang Language) (string, bool) {
	if o == nil {
		return "", false
	}
	text, ok := o.Responses[group][lang]
	return text, ok
}

func (o *OutputStore) Len() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, m := range o.Responses {
		n += len(m)
	}
	return n
}
