package river

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Message is a rendered notification ready for the delivery transport.
type Message struct {
	Subject string
	Body    string
}

type templateEntry struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type catalogFile struct {
	Templates map[string]templateEntry `yaml:"templates"`
}

// TemplateCatalog holds the notification templates, keyed by template id.
// Bodies use text/template syntax over the job's context map.
type TemplateCatalog struct {
	entries map[string]templateEntry
}

// LoadTemplates parses the embedded template catalog.
func LoadTemplates() (*TemplateCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(templatesYAML, &f); err != nil {
		return nil, fmt.Errorf("parsing template catalog: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("template catalog is empty")
	}
	return &TemplateCatalog{entries: f.Templates}, nil
}

// Render produces the message for a template id and context.
func (c *TemplateCatalog) Render(id string, context map[string]string) (Message, error) {
	entry, ok := c.entries[id]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", id)
	}

	body, err := renderText(id, entry.Body, context)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: entry.Subject, Body: body}, nil
}

func renderText(id, text string, context map[string]string) (string, error) {
	tmpl, err := template.New(id).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", id, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, context); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", id, err)
	}
	return sb.String(), nil
}
