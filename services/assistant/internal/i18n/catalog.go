package i18n

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used for unsupported tags and missing templates
const DefaultLanguage = "en"

//go:embed catalog.yaml
var embedded []byte

// Catalog maps "section.key" to per-language templates
type Catalog struct {
	templates map[string]map[string]string
	languages map[string]bool
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded catalog, parsed once
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embedded)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for callers that can't proceed without the catalog
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse reads a catalog document of the form section -> key -> language -> template
func Parse(data []byte) (*Catalog, error) {
	var doc map[string]map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		templates: make(map[string]map[string]string),
		languages: map[string]bool{DefaultLanguage: true},
	}
	for section, keys := range doc {
		for key, langs := range keys {
			if _, ok := langs[DefaultLanguage]; !ok {
				return nil, fmt.Errorf("catalog entry %s.%s has no %q template", section, key, DefaultLanguage)
			}
			c.templates[section+"."+key] = langs
			for lang := range langs {
				c.languages[lang] = true
			}
		}
	}
	return c, nil
}

// Normalize maps a language tag onto a supported language, e.g. "de-DE" -> "de"
func (c *Catalog) Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if c.languages[tag] {
		return tag
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 && c.languages[tag[:i]] {
		return tag[:i]
	}
	return DefaultLanguage
}

// Text renders the template for key in lang, falling back to English.
// An unknown key renders as the key itself.
func (c *Catalog) Text(lang, key string, vars map[string]string) string {
	langs, ok := c.templates[key]
	if !ok {
		return key
	}
	tpl, ok := langs[c.Normalize(lang)]
	if !ok || tpl == "" {
		tpl = langs[DefaultLanguage]
	}
	return render(tpl, vars)
}

// Has reports whether key exists
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

func render(tpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
