package routes

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownRoute = errors.New("unknown route")
	ErrMissingParam = errors.New("missing route parameter")
)

// Route is a named endpoint exposed to pages.
type Route struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Registry resolves route names to URLs.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

// Default returns the registry of page routes used by the dashboard layout.
func Default() *Registry {
	r := NewRegistry()
	r.Add("dashboard", http.MethodGet, "/dashboard")
	r.Add("sensors", http.MethodGet, "/sensors")
	r.Add("actuators", http.MethodGet, "/actuators")
	r.Add("watering-schedule", http.MethodGet, "/watering-schedule")
	r.Add("statistics", http.MethodGet, "/statistics")
	r.Add("profile.edit", http.MethodGet, "/profile")
	r.Add("profile.update", http.MethodPatch, "/profile")
	r.Add("logout", http.MethodPost, "/logout")
	r.Add("login", http.MethodGet, "/login")
	r.Add("register", http.MethodGet, "/register")
	return r
}

// Add registers or replaces a named route.
func (r *Registry) Add(name, method, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[name] = Route{Name: name, Method: strings.ToUpper(method), Path: path}
}

// Lookup returns the route registered under name.
func (r *Registry) Lookup(name string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[name]
	return route, ok
}

// URL resolves name to a path, substituting ":param" segments from params
// given as alternating key, value pairs.
func (r *Registry) URL(name string, params ...string) (string, error) {
	route, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRoute, name)
	}
	values := make(map[string]string, len(params)/2)
	for i := 0; i+1 < len(params); i += 2 {
		values[params[i]] = params[i+1]
	}

	segments := strings.Split(route.Path, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		v, ok := values[seg[1:]]
		if !ok || v == "" {
			return "", fmt.Errorf("%w: %s requires %s", ErrMissingParam, name, seg[1:])
		}
		segments[i] = v
	}
	return strings.Join(segments, "/"), nil
}

// MustURL is URL for routes known to exist; it panics otherwise.
func (r *Registry) MustURL(name string, params ...string) string {
	u, err := r.URL(name, params...)
	if err != nil {
		panic(err)
	}
	return u
}

// NameFor returns the name of the GET route whose path equals path.
func (r *Registry) NameFor(path string) (string, bool) {
	path = normalize(path)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if route.Method == http.MethodGet && normalize(route.Path) == path {
			return route.Name, true
		}
	}
	return "", false
}

// Current reports whether path is the page of route name.
func (r *Registry) Current(name, path string) bool {
	current, ok := r.NameFor(path)
	return ok && current == name
}

// All lists routes ordered by name.
func (r *Registry) All() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Table returns name to path, the shape the client route() helper consumes.
func (r *Registry) Table() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.routes))
	for name, route := range r.routes {
		out[name] = route.Path
	}
	return out
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}
