// Package render produces the deliverable HTML document for a reading.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"lumina-order-service/internal/models"
)

// readingTemplate is the default deliverable layout. Narrative fields are
// escaped by html/template, so model output cannot inject markup.
const readingTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Reading {{.OrderNumber}}</title>
</head>
<body>
<header>
  <h1>Personal Reading</h1>
  <p class="order-number">{{.OrderNumber}}</p>
  <p class="client">Prepared for {{.ClientName}}</p>
  <p class="generated-at">{{.GeneratedAt.Format "2 January 2006"}}</p>
</header>
<main>
  <section class="archetype">
    <h2>Your Archetype: {{.Archetype}}</h2>
  </section>
  <section class="reading">
    <h2>Reading</h2>
    <p>{{.Reading}}</p>
  </section>
  {{if .Ritual}}<section class="ritual">
    <h2>Ritual</h2>
    <p>{{.Ritual}}</p>
  </section>{{end}}
  {{if .Analysis}}<section class="analysis">
    <h2>Analysis</h2>
    <p>{{.Analysis}}</p>
  </section>{{end}}
</main>
</body>
</html>
`

// TemplateRenderer renders reading documents from named templates.
type TemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTemplateRenderer parses the built-in templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	reading, err := template.New("reading.html").Parse(readingTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reading template: %w", err)
	}

	return &TemplateRenderer{
		templates: map[string]*template.Template{
			"reading.html": reading,
		},
	}, nil
}

// Render executes a named template against the document data.
func (r *TemplateRenderer) Render(_ context.Context, templateName string, data *models.ReadingDocument) ([]byte, error) {
	tmpl, ok := r.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", templateName, err)
	}
	return buf.Bytes(), nil
}
