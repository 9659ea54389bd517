// Package prompts holds every user- and model-facing text of the entity,
// looked up by (template id, locale). Memory, energy and consolidation
// logic stay locale-agnostic and only pass data in.
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// DefaultLocale is used when a template has no variant for the requested locale.
const DefaultLocale = "en"

// ErrUnknownTemplate is returned when no locale variant of a template exists.
var ErrUnknownTemplate = errors.New("unknown template")

// Template is one localized text.
type Template struct {
	ID          string
	Locale      string
	Description string
	Content     string
}

type key struct{ id, locale string }

// Catalog resolves templates by id and locale.
type Catalog struct {
	mu        sync.RWMutex
	templates map[key]*template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"percent": func(f float64) int {
		return int(f*100 + 0.5)
	},
	"trim": strings.TrimSpace,
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{templates: make(map[key]*template.Template)}
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog with the built-in English and German texts.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c := NewCatalog()
		for _, t := range builtin {
			if err := c.Register(t); err != nil {
				panic(fmt.Sprintf("prompts: builtin %s/%s: %v", t.ID, t.Locale, err))
			}
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Register parses and stores t, replacing any earlier variant with the
// same id and locale.
func (c *Catalog) Register(t Template) error {
	if t.ID == "" {
		return fmt.Errorf("template id is empty")
	}
	if t.Locale == "" {
		t.Locale = DefaultLocale
	}
	parsed, err := template.New(t.ID + "." + t.Locale).Funcs(funcs).Parse(t.Content)
	if err != nil {
		return fmt.Errorf("parse template %s/%s: %w", t.ID, t.Locale, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[key{t.ID, normalize(t.Locale)}] = parsed
	return nil
}

// Render executes template id for locale. The lookup tries the exact
// locale, its language part ("de-AT" -> "de"), then DefaultLocale.
func (c *Catalog) Render(id, locale string, data any) (string, error) {
	t, ok := c.lookup(id, locale)
	if !ok {
		return "", fmt.Errorf("%s (locale %q): %w", id, locale, ErrUnknownTemplate)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", id, err)
	}
	return buf.String(), nil
}

// Text is Render for built-in templates whose data is known to fit; a
// failure yields the template id so the gap is visible in output.
func (c *Catalog) Text(id, locale string, data any) string {
	s, err := c.Render(id, locale, data)
	if err != nil {
		return id
	}
	return s
}

// Has reports whether id resolves for locale, including fallbacks.
func (c *Catalog) Has(id, locale string) bool {
	_, ok := c.lookup(id, locale)
	return ok
}

// Locales lists the locales that have at least one template.
func (c *Catalog) Locales() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range c.templates {
		seen[k.locale] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) lookup(id, locale string) (*template.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	locale = normalize(locale)
	candidates := []string{locale}
	if i := strings.IndexByte(locale, '-'); i > 0 {
		candidates = append(candidates, locale[:i])
	}
	candidates = append(candidates, DefaultLocale)

	for _, l := range candidates {
		if t, ok := c.templates[key{id, l}]; ok {
			return t, true
		}
	}
	return nil, false
}

func normalize(locale string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}
