package secure

import "strings"

// sensitiveKeyMarkers names substrings of a header/env key that mark its
// value as a secret: these must never reach a log line or the /status
// document in plaintext.
var sensitiveKeyMarkers = []string{"authorization", "token", "secret", "api-key", "api_key", "apikey", "password", "cookie"}

// IsSensitiveKey reports whether key (a header name or env var name) looks
// like it carries a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

// RedactHeaders returns a copy of headers with every sensitive value
// replaced by a fixed placeholder, safe to pass to a logger or the /status
// endpoint.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveKey(k) {
			out[k] = "[redacted]"
			continue
		}

		out[k] = v
	}

	return out
}

// RedactEnv behaves like RedactHeaders for a server descriptor's env map.
func RedactEnv(env map[string]string) map[string]string {
	return RedactHeaders(env)
}
