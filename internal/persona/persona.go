package persona

import (
	"fmt"
	"strings"
)

// Persona is one of the fixed writing voices applied to prompt construction.
type Persona string

const (
	Builder    Persona = "builder"
	Shitposter Persona = "shitposter"
	Contrarian Persona = "contrarian"
)

// Default is used when nothing is configured or a value cannot be mapped.
const Default = Builder

// Info describes a persona for prompts and presenting collaborators.
type Info struct {
	ID      Persona `json:"id"`
	Name    string  `json:"name"`
	Tagline string  `json:"tagline"`
	Color   string  `json:"color"`
	Voice   string  `json:"voice"`
}

// all is in declared order; multi-voice output and positional persona
// assignment both depend on it.
var all = []Info{
	{
		ID:      Builder,
		Name:    "The Builder",
		Tagline: "Optimistic, first-principles, PG-style",
		Color:   "green",
		Voice: "Sharp, clear thinking with quiet optimism. Paul Graham style: first-principles reasoning, " +
			"genuine curiosity, hopeful about builders and making things. Occasionally funny but substance over cleverness.",
	},
	{
		ID:      Shitposter,
		Name:    "The Shitposter",
		Tagline: "Absurdist, unhinged, chaotic humor",
		Color:   "purple",
		Voice: "Absurdist, deadpan, chaotic internet humor. Lowercase is fine. Commits to the bit. " +
			"Funny first, but the joke should still land on something true about the post.",
	},
	{
		ID:      Contrarian,
		Name:    "The Contrarian",
		Tagline: "Challenges conventional wisdom with receipts",
		Color:   "orange",
		Voice: "Bold, contrarian, thought-provoking. Challenges the consensus take with specific evidence " +
			"or a concrete counterexample. Disagrees with ideas, never attacks people.",
	},
}

// All returns every persona in declared order.
func All() []Info {
	out := make([]Info, len(all))
	copy(out, all)
	return out
}

// IDs returns the persona identifiers in declared order.
func IDs() []Persona {
	ids := make([]Persona, len(all))
	for i, p := range all {
		ids[i] = p.ID
	}
	return ids
}

// Lookup returns the Info for p.
func Lookup(p Persona) (Info, bool) {
	for _, info := range all {
		if info.ID == p {
			return info, true
		}
	}
	return Info{}, false
}

// Parse matches s case-insensitively against persona identifiers.
func Parse(s string) (Persona, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, info := range all {
		if string(info.ID) == s {
			return info.ID, nil
		}
	}
	return "", fmt.Errorf("unknown persona %q", s)
}

// Valid reports whether p is one of the known personas.
func (p Persona) Valid() bool {
	_, ok := Lookup(p)
	return ok
}

// OrDefault returns p if valid, otherwise Default.
func (p Persona) OrDefault() Persona {
	if p.Valid() {
		return p
	}
	return Default
}

// legacyTones maps the retired tone setting onto personas.
var legacyTones = map[string]Persona{
	"witty":        Builder,
	"professional": Builder,
	"informative":  Builder,
	"casual":       Shitposter,
	"provocative":  Contrarian,
}

// FromLegacyTone maps a tone value from older configurations. Unknown tones
// map to Default.
func FromLegacyTone(tone string) Persona {
	if p, ok := legacyTones[strings.ToLower(strings.TrimSpace(tone))]; ok {
		return p
	}
	return Default
}

// Migrate resolves the effective persona from a stored persona and a legacy
// tone. migrated is true when the result came from the tone table and should
// be persisted so it is never derived again.
func Migrate(stored, legacyTone string) (p Persona, migrated bool) {
	if stored != "" {
		if parsed, err := Parse(stored); err == nil {
			return parsed, false
		}
	}
	if legacyTone != "" {
		return FromLegacyTone(legacyTone), true
	}
	return Default, stored != ""
}
