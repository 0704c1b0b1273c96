// Package replies holds the localized user-facing messages the bot sends.
// Messages live in an embedded YAML catalog as pongo2 templates so operators
// can override wording without touching code.
package replies

import (
	_ "embed"
	"fmt"
	"log"
	"os"

	"github.com/flosch/pongo2/v6"
	"gopkg.in/yaml.v3"
)

//go:embed replies.yaml
var embeddedCatalog []byte

// Catalog renders reply templates by key.
type Catalog struct {
	templates map[string]*pongo2.Template
	logger    *log.Logger
}

// Load parses a YAML catalog of key to template strings.
func Load(raw []byte, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.Default()
	}

	var entries map[string]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("replies: parse catalog: %w", err)
	}

	templates := make(map[string]*pongo2.Template, len(entries))
	for key, text := range entries {
		tmpl, err := pongo2.FromString(text)
		if err != nil {
			return nil, fmt.Errorf("replies: template %q: %w", key, err)
		}
		templates[key] = tmpl
	}
	return &Catalog{templates: templates, logger: logger}, nil
}

// LoadFile reads a catalog from disk, for operator-customized wording.
func LoadFile(path string, logger *log.Logger) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replies: read %s: %w", path, err)
	}
	return Load(raw, logger)
}

// Default returns the embedded catalog. The embedded file is validated by
// tests, so a parse failure here is a build defect.
func Default() *Catalog {
	catalog, err := Load(embeddedCatalog, nil)
	if err != nil {
		panic(err)
	}
	return catalog
}

// Render produces the reply for key with the given template context. Unknown
// keys and render failures fall back to the key itself so the user always
// receives something.
func (c *Catalog) Render(key string, ctx map[string]interface{}) string {
	tmpl, ok := c.templates[key]
	if !ok {
		c.logger.Printf("replies: no template for %q", key)
		return key
	}
	out, err := tmpl.Execute(pongo2.Context(ctx))
	if err != nil {
		c.logger.Printf("replies: render %q: %v", key, err)
		return key
	}
	return out
}

// Has reports whether the catalog defines key.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}
