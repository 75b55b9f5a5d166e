package util

import (
	"html"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// sensitiveHeaders are never written to logs or stored request snapshots.
var sensitiveHeaders = map[string]struct{}{
	"authorization":        {},
	"cookie":               {},
	"set-cookie":           {},
	"proxy-authorization":  {},
	"x-api-key":            {},
	"x-api-token":          {},
	"x-access-token":       {},
	"x-auth-token":         {},
	"x-api-secret":         {},
	"x-warden-break-glass": {},
}

// SanitizeForLog removes control characters and newlines from user content before logging.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return controlChars.ReplaceAllString(s, " ")
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SanitizePayload prepares attacker-controlled text for storage: control characters are
// flattened, the value is truncated to max bytes and HTML-escaped so dashboards can
// render it verbatim.
func SanitizePayload(s string, max int) string {
	return html.EscapeString(Truncate(SanitizeForLog(s), max))
}

// SanitizeHeaders returns a copy of h with sensitive headers redacted and other values
// sanitized and truncated to 200 bytes.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, Truncate(SanitizeForLog(v), 200))
		}
		out[k] = clean
	}
	return out
}
