package layers

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
)

// PersonalityKey is the KV key holding the personality JSON.
const PersonalityKey = "personality"

// Personality is the entity's core identity.
type Personality struct {
	Name      string             `json:"name"`
	Traits    map[string]float64 `json:"traits"`
	Values    []string           `json:"values,omitempty"`
	Interests []string           `json:"interests,omitempty"`
	Style     string             `json:"speaking_style,omitempty"`
}

// DefaultPersonality is seeded on first start.
func DefaultPersonality(name string) Personality {
	if name == "" {
		name = "Nova"
	}
	return Personality{
		Name: name,
		Traits: map[string]float64{
			"curiosity":    0.8,
			"empathy":      0.7,
			"openness":     0.75,
			"playfulness":  0.5,
			"introversion": 0.4,
		},
		Values:    []string{"honesty", "learning", "kindness"},
		Interests: []string{"people", "ideas", "nature"},
		Style:     "warmly and thoughtfully",
	}
}

// LoadPersonality reads the personality, seeding def when none is stored.
func LoadPersonality(b *brain.Brain, def Personality) (Personality, error) {
	raw, err := b.KVGet(PersonalityKey)
	if err != nil {
		return Personality{}, err
	}
	if raw == "" {
		if err := SavePersonality(b, def); err != nil {
			return Personality{}, err
		}
		return def, nil
	}
	var p Personality
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Personality{}, fmt.Errorf("decode personality: %w", err)
	}
	return p, nil
}

// SavePersonality stores p.
func SavePersonality(b *brain.Brain, p Personality) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode personality: %w", err)
	}
	return b.KVSet(PersonalityKey, string(data))
}

// Render formats the personality as the core identity layer.
func (p Personality) Render(catalog *prompts.Catalog, locale string) string {
	traits := make([]prompts.Trait, 0, len(p.Traits))
	for name, v := range p.Traits {
		traits = append(traits, prompts.Trait{Name: name, Value: v})
	}
	sort.Slice(traits, func(i, j int) bool {
		if traits[i].Value != traits[j].Value {
			return traits[i].Value > traits[j].Value
		}
		return traits[i].Name < traits[j].Name
	})
	out, err := catalog.Render(prompts.LayerIdentity, locale, prompts.IdentityData{
		Name:      p.Name,
		Traits:    traits,
		Values:    p.Values,
		Interests: p.Interests,
		Style:     p.Style,
	})
	if err != nil {
		return p.Name
	}
	return out
}
