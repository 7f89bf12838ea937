// Package render executes the embedded HTML templates.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
)

//go:embed templates/*.html
var templatesFS embed.FS

const layoutFile = "templates/layout.html"

// Page templates.
const (
	PageCalculator = "cgpa_calculator.html"
	PageLogin      = "login.html"
	PageError      = "error.html"
)

// ErrUnknownTemplate is returned when rendering a template that was not loaded.
var ErrUnknownTemplate = errors.New("unknown template")

// Context is the data passed to a template.
type Context map[string]any

// Processor adds request-derived values to every template context.
type Processor func(r *http.Request) Context

// Renderer writes HTML pages.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request, status int, name string, data Context) error
}

// URLFunc resolves a route name to its path.
type URLFunc func(name string) string

// TemplateRenderer renders pages from the embedded template set.
type TemplateRenderer struct {
	pages      map[string]*template.Template
	processors []Processor
	metrics    metrics.Recorder
}

// New parses all pages against the layout.
// urlFor backs the {{url "name"}} template function.
func New(urlFor URLFunc, recorder metrics.Recorder, processors ...Processor) (*TemplateRenderer, error) {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if urlFor == nil {
		urlFor = func(string) string { return "" }
	}
	funcs := template.FuncMap{"url": func(name string) string { return urlFor(name) }}

	pages := make(map[string]*template.Template)
	for _, name := range []string{PageCalculator, PageLogin, PageError} {
		t, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, layoutFile, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}

	return &TemplateRenderer{
		pages:      pages,
		processors: processors,
		metrics:    recorder,
	}, nil
}

// Render executes name into a buffer and only then writes headers and body,
// so a failed render never leaves a partial page on the wire.
// Keys supplied in data take precedence over processor output.
func (t *TemplateRenderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data Context) error {
	start := time.Now()

	tmpl, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	ctx := t.buildContext(r, data)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", ctx); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)

	t.metrics.IncPageRender(name)
	t.metrics.ObservePageRenderDuration(time.Since(start))
	return nil
}

func (t *TemplateRenderer) buildContext(r *http.Request, data Context) Context {
	ctx := make(Context, len(data)+4)
	for _, p := range t.processors {
		for k, v := range p(r) {
			ctx[k] = v
		}
	}
	for k, v := range data {
		ctx[k] = v
	}
	return ctx
}

// UserProcessor exposes the signed-in username as "user" (empty when anonymous).
func UserProcessor(r *http.Request) Context {
	return Context{"user": auth.UsernameFromContext(r.Context())}
}

// CSRFProcessor exposes the request's CSRF token as "csrf_token".
func CSRFProcessor(r *http.Request) Context {
	return Context{"csrf_token": auth.CSRFTokenFromContext(r.Context())}
}

// DefaultProcessors returns the processors every page uses.
func DefaultProcessors() []Processor {
	return []Processor{UserProcessor, CSRFProcessor}
}
