// Package router maps request resources to handlers.
//
// Routes come in two kinds.  Literal routes match one exact path and
// are checked first.  Pattern routes are regular expressions matched
// against the whole path, tried in registration order; the first match
// wins.  The router is filled once at startup and is read-only
// afterwards, so lookups are safe from any number of goroutines.
package router

import (
	"fmt"
	"regexp"
)

// Kind tags a route as literal or pattern.
type Kind int

const (
	KindLiteral Kind = iota
	KindPattern
)

func (k Kind) String() string {
	if k == KindPattern {
		return "pattern"
	}
	return "literal"
}

// Route is one registered entry.
type Route[H any] struct {
	Kind    Kind
	Key     string
	Handler H

	re *regexp.Regexp // nil for literals
}

// Router holds literal and pattern routes for handlers of type H.
type Router[H any] struct {
	literals map[string]H
	order    []Route[H] // every route, registration order
}

// New returns an empty router.
func New[H any]() *Router[H] {
	return &Router[H]{literals: make(map[string]H)}
}

// Literal registers h for exactly path.  A second registration for the
// same path replaces the first.
func (r *Router[H]) Literal(path string, h H) {
	r.literals[path] = h
	r.order = append(r.order, Route[H]{Kind: KindLiteral, Key: path, Handler: h})
}

// Pattern registers h for every path fully matching expr.  An
// expression that does not compile is not registered and never
// matches; the compile error is returned for the caller to report.
func (r *Router[H]) Pattern(expr string, h H) error {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return fmt.Errorf("route pattern %q: %w", expr, err)
	}
	r.order = append(r.order, Route[H]{Kind: KindPattern, Key: expr, Handler: h, re: re})
	return nil
}

// Handle registers key as a literal when it contains no regular
// expression metacharacters and as a pattern otherwise.
func (r *Router[H]) Handle(key string, h H) error {
	if regexp.QuoteMeta(key) == key {
		r.Literal(key, h)
		return nil
	}
	return r.Pattern(key, h)
}

// Lookup returns the handler for path.  Literal routes take priority
// over patterns; patterns are tried in registration order.
func (r *Router[H]) Lookup(path string) (H, bool) {
	if h, ok := r.literals[path]; ok {
		return h, true
	}
	for _, rt := range r.order {
		if rt.Kind == KindPattern && rt.re.MatchString(path) {
			return rt.Handler, true
		}
	}
	var zero H
	return zero, false
}

// Routes returns the registered routes in registration order.
func (r *Router[H]) Routes() []Route[H] {
	out := make([]Route[H], len(r.order))
	copy(out, r.order)
	return out
}
