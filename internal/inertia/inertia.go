// Package inertia renders pages as an HTML shell carrying the page object,
// or as bare JSON when the client navigates with X-Inertia.
package inertia

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderInertia  = "X-Inertia"
	HeaderVersion  = "X-Inertia-Version"
	HeaderLocation = "X-Inertia-Location"
)

//go:embed shell.html
var shellHTML string

// Props are the data handed to a page component.
type Props map[string]any

// Page is the object the client boots from.
type Page struct {
	Component string `json:"component"`
	Props     Props  `json:"props"`
	URL       string `json:"url"`
	Version   string `json:"version"`
}

// SharedFunc contributes props to every page.
type SharedFunc func(c *gin.Context) Props

// Renderer builds page responses.
type Renderer struct {
	version string
	title   string
	shell   *template.Template
	shared  []SharedFunc
}

// Option customises a Renderer.
type Option func(*Renderer)

// WithTitle sets the document title.
func WithTitle(title string) Option {
	return func(r *Renderer) {
		if title != "" {
			r.title = title
		}
	}
}

// WithShared adds a shared props provider. Later providers override earlier ones.
func WithShared(fn SharedFunc) Option {
	return func(r *Renderer) {
		if fn != nil {
			r.shared = append(r.shared, fn)
		}
	}
}

// New parses the embedded shell. version identifies the current asset build.
func New(version string, opts ...Option) (*Renderer, error) {
	tmpl, err := template.New("shell").Parse(shellHTML)
	if err != nil {
		return nil, fmt.Errorf("parse page shell: %w", err)
	}
	r := &Renderer{version: version, title: "AgriSense", shell: tmpl}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Version returns the asset version.
func (r *Renderer) Version() string {
	return r.version
}

// Middleware answers stale GET visits with 409 so the client reloads, and
// marks every response as varying on X-Inertia.
func (r *Renderer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Vary", HeaderInertia)
		if c.GetHeader(HeaderInertia) == "" {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodGet && c.GetHeader(HeaderVersion) != r.version {
			c.Header(HeaderLocation, c.Request.URL.RequestURI())
			c.AbortWithStatus(http.StatusConflict)
			return
		}
		c.Next()
	}
}

// Render writes component with props at status 200.
func (r *Renderer) Render(c *gin.Context, component string, props Props) {
	r.RenderStatus(c, http.StatusOK, component, props)
}

// RenderStatus writes component with props at status.
func (r *Renderer) RenderStatus(c *gin.Context, status int, component string, props Props) {
	page := r.Page(c, component, props)
	if c.GetHeader(HeaderInertia) != "" {
		c.Header(HeaderInertia, "true")
		c.Header("Vary", HeaderInertia)
		c.JSON(status, page)
		return
	}

	body, err := r.HTML(page)
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "render failed")
		return
	}
	c.Data(status, "text/html; charset=utf-8", body)
}

// Page merges shared props under props and stamps the request URL.
func (r *Renderer) Page(c *gin.Context, component string, props Props) Page {
	merged := Props{"errors": Props{}}
	for _, fn := range r.shared {
		for k, v := range fn(c) {
			merged[k] = v
		}
	}
	for k, v := range props {
		merged[k] = v
	}
	return Page{Component: component, Props: merged, URL: c.Request.URL.RequestURI(), Version: r.version}
}

// HTML renders the document shell for page.
func (r *Renderer) HTML(page Page) ([]byte, error) {
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	var buf bytes.Buffer
	err = r.shell.Execute(&buf, struct {
		Title    string
		Version  string
		PageJSON string
	}{Title: r.title, Version: r.version, PageJSON: string(raw)})
	if err != nil {
		return nil, fmt.Errorf("render page shell: %w", err)
	}
	return buf.Bytes(), nil
}

// Redirect sends the client to url. Redirects answering PUT, PATCH or
// DELETE use 303 so the follow-up request is a GET.
func Redirect(c *gin.Context, url string) {
	status := http.StatusFound
	switch c.Request.Method {
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		status = http.StatusSeeOther
	}
	c.Redirect(status, url)
}

// Location forces a full page visit to url, for destinations outside the app.
func Location(c *gin.Context, url string) {
	if c.GetHeader(HeaderInertia) != "" {
		c.Header(HeaderLocation, url)
		c.Status(http.StatusConflict)
		return
	}
	c.Redirect(http.StatusFound, url)
}
