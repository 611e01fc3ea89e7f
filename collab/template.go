package collab

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"
)

// TemplateRenderer fills registered text templates with snapshot data.
// It backs contract body generation and the offboarding letters; a
// production deployment swaps in a PDF renderer behind the same
// interface.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{templates: make(map[string]*template.Template)}
}

// Register parses and stores a template body under the document type.
// Registering the same type again replaces the previous body.
func (r *TemplateRenderer) Register(docType, body string) error {
	tmpl, err := template.New(docType).Option("missingkey=zero").Parse(body)
	if err != nil {
		return fmt.Errorf("collab: parse template %s: %w", docType, err)
	}
	r.mu.Lock()
	r.templates[docType] = tmpl
	r.mu.Unlock()
	return nil
}

// Render fills the template registered for docType. When the data
// carries a "TemplateBody" string, that body is parsed and used
// instead, so database-stored templates render without registration.
func (r *TemplateRenderer) Render(ctx context.Context, docType string, data map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tmpl *template.Template
	if body, ok := data["TemplateBody"].(string); ok && body != "" {
		parsed, err := template.New(docType).Option("missingkey=zero").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("collab: parse template %s: %w", docType, err)
		}
		tmpl = parsed
	} else {
		r.mu.RLock()
		tmpl = r.templates[docType]
		r.mu.RUnlock()
	}
	if tmpl == nil {
		return nil, fmt.Errorf("collab: no template registered for %s", docType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("collab: render %s: %w", docType, err)
	}
	return buf.Bytes(), nil
}
