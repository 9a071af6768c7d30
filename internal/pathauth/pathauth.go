// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pathauth decides whether a storage path may be written. Paths are
// checked against a denylist of forbidden substrings first, then against an
// allowlist of authorized prefixes; the denylist always takes priority.
package pathauth

import (
	"fmt"
	"strings"
)

// DefaultAllowedPrefixes is the fixed allowlist of writable path prefixes.
var DefaultAllowedPrefixes = []string{
	"generated/",
	"build/",
	"artifacts/",
	"staging/",
}

// DefaultDeniedSegments is the fixed denylist of forbidden path substrings.
var DefaultDeniedSegments = []string{
	"..",
	"secrets",
	"credentials",
	".env",
}

// Authorizer validates candidate write paths against an allowlist and a
// denylist. The zero value rejects everything; use New.
type Authorizer struct {
	allowed []string
	denied  []string
}

// New builds an Authorizer. Nil slices fall back to the package defaults.
func New(allowed, denied []string) *Authorizer {
	if allowed == nil {
		allowed = DefaultAllowedPrefixes
	}
	if denied == nil {
		denied = DefaultDeniedSegments
	}
	return &Authorizer{allowed: allowed, denied: denied}
}

// Authorize returns nil when the path is writable, or an error describing the
// first rule the path violated. The denylist is checked first.
func (a *Authorizer) Authorize(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	for _, seg := range a.denied {
		if strings.Contains(path, seg) {
			return fmt.Errorf("path %q contains forbidden segment %q", path, seg)
		}
	}
	for _, prefix := range a.allowed {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return fmt.Errorf("path %q is outside every authorized prefix", path)
}

// Violations checks every path and returns one message per unauthorized one.
func (a *Authorizer) Violations(paths []string) []string {
	var out []string
	for _, p := range paths {
		if err := a.Authorize(p); err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

// AllowedPrefixes returns a copy of the allowlist, for status surfaces.
func (a *Authorizer) AllowedPrefixes() []string {
	out := make([]string, len(a.allowed))
	copy(out, a.allowed)
	return out
}
