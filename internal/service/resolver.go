// Package service implements the gateway core: upstream resolution,
// request forwarding, and response translation.
package service

import (
	"sync/atomic"

	"github.com/AhmadAlbader/BCards/internal/config"
)

// Resolver turns logical paths into absolute upstream URLs.
// The base address may be swapped at runtime by a config reload; each
// Resolve call reads the current value.
type Resolver struct {
	base atomic.Pointer[string]
}

// NewResolver creates a Resolver from the configured base address, falling
// back to config.DefaultUpstreamURL when none is set.
func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{}
	r.SetBase(cfg.Upstream.BaseURL)
	return r
}

// Resolve concatenates the base address and logicalPath verbatim. No
// normalization or escaping is applied.
func (r *Resolver) Resolve(logicalPath string) string {
	return r.Base() + logicalPath
}

// Base returns the current base address.
func (r *Resolver) Base() string {
	return *r.base.Load()
}

// SetBase replaces the base address for subsequent requests.
func (r *Resolver) SetBase(base string) {
	if base == "" {
		base = config.DefaultUpstreamURL
	}
	r.base.Store(&base)
}

// CardPath is the logical path of an employee's card.
func CardPath(companySlug, employeeSlug string) string {
	return "/card/" + companySlug + "/" + employeeSlug
}

// VCardPath is the logical path of an employee's card in vCard form.
func VCardPath(companySlug, employeeSlug string) string {
	return CardPath(companySlug, employeeSlug) + "/vcard"
}
