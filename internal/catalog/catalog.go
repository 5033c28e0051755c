// Package catalog holds the fixed sets the viewer offers: models with their
// layer and head counts, and the prompt groups with their reference prompts.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/attnscope/internal/attention"
)

type Model struct {
	ID     string `json:"id"`
	Layers int    `json:"layers"`
	Heads  int    `json:"heads"`
}

// Check reports an out-of-range layer or head against the model's bounds.
func (m Model) Check(layer, head int) error {
	if layer < 0 || layer >= m.Layers {
		return &attention.Error{Kind: attention.KindIndexOutOfRange, Axis: "layer", Index: layer, Bound: m.Layers}
	}
	if head < 0 || head >= m.Heads {
		return &attention.Error{Kind: attention.KindIndexOutOfRange, Axis: "head", Index: head, Bound: m.Heads}
	}
	return nil
}

var Models = []Model{
	{ID: "gemma2", Layers: 26, Heads: 8},
	{ID: "Llama3.2", Layers: 16, Heads: 32},
}

// LookupModel matches ids case-insensitively.
func LookupModel(id string) (Model, bool) {
	for _, m := range Models {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return Model{}, false
}

func ModelIDs() []string {
	ids := make([]string, len(Models))
	for i, m := range Models {
		ids[i] = m.ID
	}
	return ids
}

type Group struct {
	Name    string                        `json:"name"`
	Prompts map[attention.Language]string `json:"prompts"`
	// Focus names the concept whose tokens are expected to draw attention.
	Focus string `json:"focus"`
}

var Groups = []Group{
	{
		Name: "trio1",
		Prompts: map[attention.Language]string{
			attention.Primary:   "Will you please help me understand the concept of kinetic energy?",
			attention.Secondary: "क्या आप कृपया मुझे गतिज ऊर्जा की अवधारणा को समझने में मदद करेंगे?",
			attention.CodeMixed: "Kya aap mujhe kinetic energy ke concept ko samajhne mein help karoge?",
		},
		Focus: `"kinetic energy"`,
	},
	{
		Name: "trio2",
		Prompts: map[attention.Language]string{
			attention.Primary:   "I want you to tell me a secret about the stars tonight.",
			attention.Secondary: "मैं चाहता हूँ कि आप आज रात मुझे सितारों के बारे में एक रहस्य बताएँ।",
			attention.CodeMixed: "Main chahta hoon ki aaj raat aap mujhe stars ke baare mein ek secret batao.",
		},
		Focus: `"stars" and "secret"`,
	},
	{
		Name: "trio3",
		Prompts: map[attention.Language]string{
			attention.Primary:   "I understand kinetic energy.",
			attention.Secondary: "मुझे काइनेटिक ऊर्जा समझ आती है।",
			attention.CodeMixed: "Mujhe kinetic energy samajh aata hai.",
		},
		Focus: `"kinetic energy"`,
	},
	{
		Name: "trio4",
		Prompts: map[attention.Language]string{
			attention.Primary:   "Can you help me learn about gravity?",
			attention.Secondary: "क्या आप मुझे गुरुत्वाकर्षण के बारे में सिखा सकते हैं?",
			attention.CodeMixed: "Kya aap mujhe gravity ke bare mein sikha sakte hain?",
		},
		Focus: `"gravity"`,
	},
}

func LookupGroup(name string) (Group, bool) {
	for _, g := range Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func GroupNames() []string {
	names := make([]string, len(Groups))
	for i, g := range Groups {
		names[i] = g.Name
	}
	sort.Strings(names)
	return names
}

// Observations returns the notes shown under a visualization.
func Observations(model, group string) []string {
	var notes []string
	if g, ok := LookupGroup(group); ok {
		notes = append(notes, fmt.Sprintf("The semantic tokens related to %s receive higher attention", g.Focus))
	}
	notes = append(notes,
		"Key semantic terms maintain consistent focus across languages",
		"Attention is distributed based on semantic importance rather than syntactic position",
	)
	if strings.EqualFold(model, "Llama3.2") {
		notes = append(notes, "Llama3.2 shows different attention patterns compared to Gemma2, particularly for cross-lingual tokens")
	}
	return notes
}
