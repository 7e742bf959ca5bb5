// Package sanitize cleans server-rendered entry markup before it is parsed
// into the live page. Two variants exist: the bundled bluemonday policy and
// an adapter over a sanitizer supplied by the host page. The variant is
// chosen once, when the reader is constructed.
package sanitize

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer turns untrusted markup into markup safe to insert.
type Sanitizer interface {
	Sanitize(raw string) string
	Name() string
}

type policy struct {
	p *bluemonday.Policy
}

var (
	bundledOnce sync.Once
	bundled     *policy
)

// Policy returns the bundled sanitizer: bluemonday's UGC policy extended
// with class and data-* attributes so entry wrappers keep their hooks.
func Policy() Sanitizer {
	bundledOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowStyling()
		p.AllowDataAttributes()
		p.AllowAttrs("width", "height").OnElements("img")
		bundled = &policy{p: p}
	})
	return bundled
}

func (s *policy) Sanitize(raw string) string { return s.p.Sanitize(raw) }
func (s *policy) Name() string               { return "bluemonday" }

type host struct {
	name string
	fn   func(string) string
}

// Host adapts a host-provided sanitizer function.
func Host(name string, fn func(string) string) Sanitizer {
	return &host{name: name, fn: fn}
}

func (h *host) Sanitize(raw string) string { return h.fn(raw) }
func (h *host) Name() string               { return h.name }

// Select returns the host sanitizer when one is available, else the bundled
// policy.
func Select(hostSanitizer Sanitizer) Sanitizer {
	if hostSanitizer != nil {
		return hostSanitizer
	}
	return Policy()
}
