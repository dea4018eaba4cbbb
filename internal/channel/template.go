package channel

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// TemplateData is what notification templates can reference.
type TemplateData struct {
	DispatchID   string
	WorkerName   string
	JobTitle     string
	EmployerName string
	Link         string
}

// TemplateSource is the raw subject and body template for one medium. SMS
// ignores the subject.
type TemplateSource struct {
	Subject string
	Body    string
}

type Rendered struct {
	Subject string
	Body    string
}

var defaultTemplates = map[domain.Medium]TemplateSource{
	domain.MediumSMS: {
		Body: `{{.EmployerName}}: you have a dispatch for {{.JobTitle}}. Respond at {{.Link}}`,
	},
	domain.MediumEmail: {
		Subject: `Dispatch offer: {{.JobTitle}} at {{.EmployerName}}`,
		Body: `Hello {{with .WorkerName}}{{.}}{{else}}member{{end}},

You have been dispatched to {{.JobTitle}} at {{.EmployerName}}.
Review and respond to this dispatch here: {{.Link}}`,
	},
	domain.MediumInApp: {
		Subject: `New dispatch: {{.JobTitle}}`,
		Body:    `{{.EmployerName}} has a dispatch for you on {{.JobTitle}}.`,
	},
}

type mediumTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Renderer turns TemplateData into per-medium message text.
type Renderer struct {
	templates map[domain.Medium]mediumTemplate
}

func NewRenderer() (*Renderer, error) {
	return NewRendererFromSources(defaultTemplates)
}

func NewRendererFromSources(sources map[domain.Medium]TemplateSource) (*Renderer, error) {
	r := &Renderer{templates: make(map[domain.Medium]mediumTemplate, len(sources))}
	for medium, src := range sources {
		body, err := template.New(medium.String() + "_body").Option("missingkey=error").Parse(src.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s body template: %w", medium, err)
		}
		subject, err := template.New(medium.String() + "_subject").Option("missingkey=error").Parse(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s subject template: %w", medium, err)
		}
		r.templates[medium] = mediumTemplate{subject: subject, body: body}
	}
	return r, nil
}

func (r *Renderer) Render(medium domain.Medium, data TemplateData) (Rendered, error) {
	tmpl, ok := r.templates[medium]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: no template for medium %q", domain.ErrValidation, medium)
	}

	var subject, body strings.Builder
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s subject: %w", medium, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s body: %w", medium, err)
	}

	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()),
	}, nil
}
