package template

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Format tells how Body is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// Template is one locale variant of a message template. Subject and TextBody
// are always plain text; Body is HTML-escaped when Format is html.
type Template struct {
	ID       string `yaml:"id" json:"id"`
	Locale   string `yaml:"locale" json:"locale,omitempty"`
	Subject  string `yaml:"subject" json:"subject,omitempty"`
	Body     string `yaml:"body" json:"body"`
	TextBody string `yaml:"text_body" json:"textBody,omitempty"`
	Format   Format `yaml:"format" json:"format,omitempty"`
	// Fallback names a secondary template used when this one fails to render.
	Fallback string `yaml:"fallback" json:"fallback,omitempty"`
}

// Validate checks the required fields.
func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTemplate)
	}
	if t.Body == "" {
		return fmt.Errorf("%w: %s has no body", ErrInvalidTemplate, t.ID)
	}
	switch t.Format {
	case "", FormatText, FormatHTML:
	default:
		return fmt.Errorf("%w: %s has unknown format %q", ErrInvalidTemplate, t.ID, t.Format)
	}
	return nil
}

// Rendered is the output of a render call.
type Rendered struct {
	TemplateID string `json:"templateId"`
	Locale     string `json:"locale,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
	TextBody   string `json:"textBody,omitempty"`
	Format     Format `json:"format"`
	// Fallback is set when a secondary or plain-text template was used.
	Fallback bool `json:"fallback,omitempty"`
}

type executor interface {
	Execute(w *bytes.Buffer, data any) error
}

type textExec struct{ t *texttemplate.Template }

func (e textExec) Execute(w *bytes.Buffer, data any) error { return e.t.Execute(w, data) }

type htmlExec struct{ t *htmltemplate.Template }

func (e htmlExec) Execute(w *bytes.Buffer, data any) error { return e.t.Execute(w, data) }

// compiled is a parsed template variant. A variant that failed to parse keeps
// its error so rendering can fall back.
type compiled struct {
	tmpl    Template
	subject executor
	body    executor
	text    executor
	err     error
}

func compile(t Template) *compiled {
	c := &compiled{tmpl: t}
	if t.Format == "" {
		c.tmpl.Format = FormatText
	}

	var err error
	if c.subject, err = parseText(t.ID+":subject", t.Subject); err != nil {
		c.err = err
		return c
	}
	if c.tmpl.Format == FormatHTML {
		h, herr := htmltemplate.New(t.ID + ":body").Option("missingkey=error").Parse(t.Body)
		if herr != nil {
			c.err = herr
			return c
		}
		c.body = htmlExec{h}
	} else if c.body, err = parseText(t.ID+":body", t.Body); err != nil {
		c.err = err
		return c
	}
	if t.TextBody != "" {
		if c.text, err = parseText(t.ID+":text", t.TextBody); err != nil {
			c.err = err
		}
	}
	return c
}

func parseText(name, src string) (executor, error) {
	t, err := texttemplate.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, err
	}
	return textExec{t}, nil
}

func (c *compiled) execute(vars map[string]any) (*Rendered, error) {
	if c.err != nil {
		return nil, c.err
	}
	if vars == nil {
		vars = map[string]any{}
	}

	var buf bytes.Buffer
	out := &Rendered{TemplateID: c.tmpl.ID, Locale: c.tmpl.Locale, Format: c.tmpl.Format}
	for _, part := range []struct {
		exec executor
		dst  *string
	}{
		{c.subject, &out.Subject},
		{c.body, &out.Body},
		{c.text, &out.TextBody},
	} {
		if part.exec == nil {
			continue
		}
		buf.Reset()
		if err := part.exec.Execute(&buf, vars); err != nil {
			return nil, err
		}
		*part.dst = buf.String()
	}
	return out, nil
}
