// Package router implements a small method-dispatched table of path
// patterns: literal segments, ":name" captures, and a trailing "*"
// wildcard, compiled once into a regular expression per pattern and
// matched in registration order.
package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Handler is opaque to the router: it is whatever the mounting layer
// (internal/pipeline) chooses to store, usually a function over its own
// request/response types. The router only ever matches and returns it.
type Handler any

type route struct {
	method  string
	pattern string
	re      *regexp.Regexp
	names   []string
	handler Handler
}

// Router dispatches by method and compiled path pattern, first match
// wins.
type Router struct {
	routes []route
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers a handler for method and pattern. Patterns are
// '/'-separated segments; a segment ":name" captures one non-'/' token,
// and a trailing "*" segment matches any suffix including the empty
// string.
func (rt *Router) Handle(method, pattern string, h Handler) {
	re, names := compile(pattern)
	rt.routes = append(rt.routes, route{
		method:  strings.ToUpper(method),
		pattern: pattern,
		re:      re,
		names:   names,
		handler: h,
	})
}

// compile turns a pattern into an anchored regexp plus the ordered list
// of parameter names it captures.
func compile(pattern string) (*regexp.Regexp, []string) {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	var names []string
	var parts []string

	for i, seg := range segments {
		switch {
		case seg == "*":
			parts = append(parts, "(.*)")
			names = append(names, "*")
		case strings.HasPrefix(seg, ":"):
			names = append(names, seg[1:])
			parts = append(parts, "([^/]+)")
		case seg == "" && i == 0 && len(segments) == 1:
			// pattern "/" itself
		default:
			parts = append(parts, regexp.QuoteMeta(seg))
		}
	}

	exprBody := strings.Join(parts, "/")
	expr := "^/" + exprBody + "$"
	if exprBody == "" {
		expr = "^/?$"
	}
	return regexp.MustCompile(expr), names
}

// Match finds the first registered route whose method and pattern match
// the given method and path. HEAD and OPTIONS requests fall back to a
// registered GET route when no exact method match exists.
func (rt *Router) Match(method, path string) (Handler, map[string]string, bool) {
	method = strings.ToUpper(method)
	if h, params, ok := rt.matchMethod(method, path); ok {
		return h, params, true
	}
	if method == "HEAD" || method == "OPTIONS" {
		return rt.matchMethod("GET", path)
	}
	return nil, nil, false
}

func (rt *Router) matchMethod(method, path string) (Handler, map[string]string, bool) {
	for _, r := range rt.routes {
		if r.method != method {
			continue
		}
		m := r.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		params := make(map[string]string, len(r.names))
		for i, name := range r.names {
			if name == "*" {
				params["*"] = m[i+1]
				continue
			}
			params[name] = m[i+1]
		}
		return r.handler, params, true
	}
	return nil, nil, false
}

// String renders the route table, useful for diagnostics.
func (rt *Router) String() string {
	var b strings.Builder
	for _, r := range rt.routes {
		fmt.Fprintf(&b, "%-7s %s\n", r.method, r.pattern)
	}
	return b.String()
}
