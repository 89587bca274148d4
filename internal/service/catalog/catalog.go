// Package catalog is the table of recognition models the worker knows about:
// which (language, model tier) pairs exist and which language-model and
// acoustic-model customization ids may be selected.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// Validation errors.
var (
	ErrUnsupportedLanguage = errors.New("language not available for model tier")
	ErrUnknownModel        = errors.New("unknown model id")
)

// Catalog is immutable after construction.
type Catalog struct {
	languages      map[string]map[string]string
	languageModels map[string]string
	acousticModels map[string]string
}

// New builds a catalog. languages maps language code to tier to the
// provider-specific model name; the model id maps map an id to the value
// passed to the recognizer (customization id, phrase set, local path).
func New(languages map[string]map[string]string, languageModels, acousticModels map[string]string) *Catalog {
	c := &Catalog{
		languages:      make(map[string]map[string]string, len(languages)),
		languageModels: make(map[string]string, len(languageModels)),
		acousticModels: make(map[string]string, len(acousticModels)),
	}
	for lang, tiers := range languages {
		m := make(map[string]string, len(tiers))
		for tier, name := range tiers {
			m[tier] = name
		}
		c.languages[lang] = m
	}
	for id, v := range languageModels {
		c.languageModels[id] = v
	}
	for id, v := range acousticModels {
		c.acousticModels[id] = v
	}
	return c
}

// Default returns the built-in catalog used when no worker file overrides it.
func Default() *Catalog {
	return New(
		map[string]map[string]string{
			"en-US": {"broad": "default", "narrow": "phone_call"},
			"en-GB": {"broad": "default", "narrow": "phone_call"},
			"zh-CN": {"broad": "default"},
		},
		map[string]string{"generic": ""},
		map[string]string{"generic": ""},
	)
}

// Resolve returns the provider model name for a language and tier.
func (c *Catalog) Resolve(language, tier string) (string, error) {
	tiers, ok := c.languages[language]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedLanguage, language, tier)
	}
	name, ok := tiers[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedLanguage, language, tier)
	}
	return name, nil
}

// LanguageModel returns the customization value for a language-model id.
// The empty id selects no customization.
func (c *Catalog) LanguageModel(id string) (string, error) {
	return lookup(c.languageModels, "language model", id)
}

// AcousticModel returns the customization value for an acoustic-model id.
func (c *Catalog) AcousticModel(id string) (string, error) {
	return lookup(c.acousticModels, "acoustic model", id)
}

// Languages lists the known language codes in sorted order.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.languages))
	for lang := range c.languages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func lookup(m map[string]string, kind, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	v, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownModel, kind, id)
	}
	return v, nil
}
