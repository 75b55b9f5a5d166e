// Package detection holds the request-path signal detectors: pure pattern matchers over
// input strings and request context, plus the process-local sliding-window probe counters.
//
// Every detector is deterministic and safe for concurrent use. Patterns are compiled with
// Go's RE2 engine so evaluation is linear in the input length.
package detection

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxUploadSize is the largest upload accepted without an oversize finding.
const MaxUploadSize int64 = 10 * 1024 * 1024

// MaxCookieLength is the largest session cookie accepted without a tampering finding.
const MaxCookieLength = 1000

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bUNION\b.*\bSELECT\b`),
	regexp.MustCompile(`(?i)\bOR\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)\bOR\b\s*['"]\w*['"]?\s*=\s*['"]?\w*`),
	regexp.MustCompile(`;|--|/\*|\*/`),
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE)\b`),
}

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|mouseenter|focus|blur|submit|change|keydown|keyup)\s*=`),
	regexp.MustCompile(`(?i)<iframe[^>]*>`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)expression\(`),
}

var pathTraversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`(?i)\.\.%2f`),
	regexp.MustCompile(`(?i)\.\.%5c`),
	regexp.MustCompile(`(?i)%2e%2e[/\\]`),
	regexp.MustCompile(`(?i)%2e%2e%2f`),
}

var doubleExtension = regexp.MustCompile(`\.\w+\.\w+$`)

// suspiciousExtensions are executable or server-side script extensions.
var suspiciousExtensions = map[string]struct{}{
	"php": {}, "php3": {}, "php4": {}, "php5": {}, "phtml": {},
	"py":  {}, "sh": {}, "bat": {}, "exe": {}, "cmd": {},
	"jsp": {}, "asp": {}, "aspx": {}, "rb": {}, "pl": {},
}

var suspiciousContentTypes = map[string]struct{}{
	"application/x-php":        {},
	"application/x-httpd-php":  {},
	"application/x-sh":         {},
	"application/x-msdownload": {},
	"application/x-executable": {},
	"text/x-python":            {},
	"text/x-shellscript":       {},
}

// SuspiciousUserAgents are substrings of well-known scanner and exploitation tools.
var SuspiciousUserAgents = []string{
	"nikto", "sqlmap", "nmap", "masscan", "burp", "metasploit",
	"havij", "acunetix", "wpscan", "dirbuster", "gobuster", "ffuf",
}

// Upload issue prefixes returned by DetectFileUploadAbuse.
const (
	IssueSuspiciousExtension   = "suspicious_extension"
	IssueSuspiciousContentType = "suspicious_content_type"
	IssuePathTraversal         = "path_traversal_attempt"
	IssueDoubleExtension       = "double_extension"
	IssueOversized             = "oversized_file"
)

func matchAny(patterns []*regexp.Regexp, input string) bool {
	if input == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// DetectSQLInjection reports whether input carries SQL injection markers.
func DetectSQLInjection(input string) bool {
	return matchAny(sqlInjectionPatterns, input)
}

// DetectXSS reports whether input carries script injection markers.
func DetectXSS(input string) bool {
	return matchAny(xssPatterns, input)
}

// DetectPathTraversal reports whether input tries to climb out of a directory,
// including URL-encoded variants.
func DetectPathTraversal(input string) bool {
	return matchAny(pathTraversalPatterns, input)
}

// DetectSuspiciousUserAgent returns the scanner name found in userAgent, if any.
func DetectSuspiciousUserAgent(userAgent string) (bool, string) {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false, ""
	}
	for _, name := range SuspiciousUserAgents {
		if strings.Contains(ua, name) {
			return true, name
		}
	}
	return false, ""
}

// DetectFileUploadAbuse inspects upload metadata and returns every issue found.
// An empty result means the upload looks clean.
func DetectFileUploadAbuse(filename, contentType string, size int64) []string {
	var issues []string

	segments := strings.Split(strings.ToLower(filename), ".")
	if len(segments) > 1 {
		for _, ext := range segments[1:] {
			if _, ok := suspiciousExtensions[ext]; ok {
				issues = append(issues, fmt.Sprintf("%s:.%s", IssueSuspiciousExtension, ext))
			}
		}
	}

	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i != -1 {
		ct = strings.TrimSpace(ct[:i])
	}
	if _, ok := suspiciousContentTypes[ct]; ok {
		issues = append(issues, fmt.Sprintf("%s:%s", IssueSuspiciousContentType, ct))
	}

	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		issues = append(issues, IssuePathTraversal)
	}

	if doubleExtension.MatchString(filename) {
		issues = append(issues, IssueDoubleExtension)
	}

	if size > MaxUploadSize {
		issues = append(issues, IssueOversized)
	}

	return issues
}

// DetectSessionIPMismatch reports whether a session bound to sessionIP is being used
// from a different address.
func DetectSessionIPMismatch(sessionIP, requestIP string) (bool, string) {
	if sessionIP == "" || requestIP == "" || sessionIP == requestIP {
		return false, ""
	}
	return true, fmt.Sprintf("IP changed from %s to %s", sessionIP, requestIP)
}

// DetectCookieTampering inspects a raw session cookie value.
func DetectCookieTampering(value string) (bool, string) {
	if value == "" {
		return false, ""
	}
	if len(value) > MaxCookieLength {
		return true, "Oversized session cookie"
	}
	if strings.ContainsAny(value, `<>"'`) {
		return true, "Suspicious characters in cookie"
	}
	return false, ""
}

// DetectPrivilegeEscalation reports an authenticated non-admin role reaching an
// admin-prefixed endpoint. An empty role is an anonymous caller and never matches.
func DetectPrivilegeEscalation(role, endpoint string, adminPrefixes []string) (bool, string) {
	if role == "" || role == "admin" {
		return false, ""
	}
	if !MatchesPrefix(endpoint, adminPrefixes) {
		return false, ""
	}
	return true, fmt.Sprintf("Role %q attempting to access admin endpoint: %s", role, endpoint)
}

// MatchesPrefix reports whether path equals one of prefixes or sits below it.
// "/admin" matches "/admin" and "/admin/users" but not "/administrator".
func MatchesPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
