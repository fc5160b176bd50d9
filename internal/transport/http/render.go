package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"select_mode", "select_category", "pre_exam", "exam", "results"}

// Renderer holds one parsed template set per page, each joined with the layout.
type Renderer struct {
	pages map[string]*template.Template
	now   func() time.Time
}

// pageData is what every template receives.
type pageData struct {
	Notice string
	Year   int
	Data   any
}

func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{
		"safeHTML": func(s string) template.HTML { return template.HTML(s) },
		"inc":      func(i int) int { return i + 1 },
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames)), now: time.Now}
	for _, name := range pageNames {
		tpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = tpl
	}
	return r, nil
}

// Render executes page into a buffer first so a template failure never
// leaves a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, page, notice string, data any) error {
	tpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, pageData{Notice: notice, Year: r.now().Year(), Data: data}); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
