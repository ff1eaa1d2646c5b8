// Package environment reads configuration from environment variables.
//
// A Source binds a common prefix (e.g. "HAKO_") so callers name settings by
// their short form. Lookups never fail: unset or unparsable values fall back to
// the supplied default, keeping validation in the code that owns the setting.
package environment

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Source resolves prefixed environment variables.
type Source struct {
	prefix string
	lookup func(string) (string, bool)
}

// New returns a Source reading os environment variables named prefix+name.
func New(prefix string) Source {
	return Source{prefix: prefix, lookup: os.LookupEnv}
}

// FromMap returns a Source backed by a fixed map, for tests and overrides.
func FromMap(prefix string, vars map[string]string) Source {
	return Source{prefix: prefix, lookup: func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}}
}

// Key returns the full variable name for name.
func (s Source) Key(name string) string {
	return s.prefix + name
}

func (s Source) get(name string) (string, bool) {
	v, ok := s.lookup(s.Key(name))
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Lookup reports the raw value and whether it is set to a non-blank value.
func (s Source) Lookup(name string) (string, bool) {
	return s.get(name)
}

// String returns the variable value or def.
func (s Source) String(name, def string) string {
	if v, ok := s.get(name); ok {
		return v
	}
	return def
}

// Int returns the variable parsed as a base-10 integer, or def.
func (s Source) Int(name string, def int) int {
	v, ok := s.get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool returns the variable parsed with strconv.ParseBool, or def.
func (s Source) Bool(name string, def bool) bool {
	v, ok := s.get(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Duration returns the variable parsed with time.ParseDuration, or def.
func (s Source) Duration(name string, def time.Duration) time.Duration {
	v, ok := s.get(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// ParsePairs parses KEY=VALUE entries into a map. The value may contain '='
// and may be empty; the key must not be empty. Later entries win.
func ParsePairs(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid environment variable %q: want KEY=VALUE", entry)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid environment variable %q: empty key", entry)
		}
		out[key] = value
	}
	return out, nil
}

// FormatPairs renders m as KEY=VALUE entries sorted by key, the form the
// container engine expects.
func FormatPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
