// Package manifest parses a plugin's config.ini into a typed Manifest.
// Malformed or missing fields are silently absent rather than errors.
package manifest

import (
	"strings"

	"gopkg.in/ini.v1"
)

// Manifest is a plugin's declarative config.ini, parsed. Pointer fields
// distinguish "absent from the file" from the zero value.
type Manifest struct {
	Available  *bool
	MinCore    *int
	MaxCore    *int
	ClientType string
	Envs       map[string]struct{}
	Bins       map[string]struct{}
	Depends    map[string]struct{}
	Packages   map[string]struct{}
}

// Load parses the config.ini at path. A missing or unreadable file
// yields a zero-value Manifest (all fields absent), not an error —
// callers treat an absent Available as ineligible.
func Load(path string) Manifest {
	m := Manifest{}

	cfg, err := ini.Load(path)
	if err != nil {
		return m
	}

	sec := cfg.Section("")

	if sec.HasKey("available") {
		if v, err := sec.Key("available").Bool(); err == nil {
			m.Available = &v
		}
	}
	if sec.HasKey("min_core") {
		if v, err := sec.Key("min_core").Int(); err == nil {
			m.MinCore = &v
		}
	}
	if sec.HasKey("max_core") {
		if v, err := sec.Key("max_core").Int(); err == nil {
			m.MaxCore = &v
		}
	}
	if sec.HasKey("client_type") {
		m.ClientType = strings.ToLower(strings.TrimSpace(sec.Key("client_type").String()))
	}

	m.Envs = parseSet(sec, "envs")
	m.Bins = parseSet(sec, "bins")
	m.Depends = parseSet(sec, "depends")
	m.Packages = parseSet(sec, "packages")

	return m
}

// parseSet splits a comma-list key into a lower-cased, trimmed,
// empty-dropped set. A missing key yields a nil (not empty) set so
// callers can tell "no constraint" from "empty constraint".
func parseSet(sec *ini.Section, key string) map[string]struct{} {
	if !sec.HasKey(key) {
		return nil
	}
	raw := sec.Key(key).String()
	if raw == "" {
		return nil
	}

	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out[part] = struct{}{}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IsAvailable reports whether the manifest declares itself eligible.
// An absent Available field counts as unavailable.
func (m Manifest) IsAvailable() bool {
	return m.Available != nil && *m.Available
}
