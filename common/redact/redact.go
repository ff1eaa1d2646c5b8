// Package redact masks sensitive values before they reach log output or audit
// notices. It is best-effort and keyed on variable names; callers still keep
// secrets out of log call sites where they can.
package redact

import "strings"

const placeholder = "[REDACTED]"

var sensitiveWords = []string{"password", "passwd", "token", "secret", "key", "credential", "auth"}

// IsSensitive reports whether a variable name suggests it holds a secret.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Env returns a copy of env with the values of sensitive keys masked. Empty
// values stay empty so the log still shows that the variable was unset.
func Env(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if v != "" && IsSensitive(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// String replaces every occurrence of the given values in s. Values shorter
// than 4 bytes are ignored.
func String(s string, values ...string) string {
	for _, v := range values {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
