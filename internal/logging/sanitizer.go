package logging

import (
	"regexp"
	"strings"
)

// rule redacts one kind of secret. before and after are expansion
// templates placed around the placeholder, for the parts of a match that
// stay readable.
type rule struct {
	re            *regexp.Regexp
	before, after string
}

var builtinRules = []rule{
	{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{re: regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`)},
	// Presigned S3 URLs carry their signature in the query string.
	{re: regexp.MustCompile(`(?i)X-Amz-(Signature|Security-Token|Credential)=[^&\s"']+`)},
	{re: regexp.MustCompile(`(?i)\b(https?://)[^/\s:@]+:[^/\s@]+@`), before: "${1}", after: "@"},
	{re: regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{16,}`)},
	{re: regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{16,}`)},
	{re: regexp.MustCompile(`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
	{re: regexp.MustCompile(`(?i)secret["'\s:=]+[a-zA-Z0-9_/+-]{20,}`)},
	{re: regexp.MustCompile(`(?i)password["'\s:=]+[^\s"']{8,}`)},
	{re: regexp.MustCompile(`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
}

var builtinKeys = []string{"authorization", "password", "secret", "secret_key", "access_key", "api_key"}

// Sanitizer redacts credentials from log output. Values under sensitive
// attribute keys are replaced wholesale; everything else is scanned for
// known secret shapes.
type Sanitizer struct {
	rules    []rule
	keys     map[string]struct{}
	redacted string
}

// NewSanitizer returns a sanitizer with the built-in rules and keys.
func NewSanitizer() *Sanitizer {
	s := &Sanitizer{
		rules:    append([]rule(nil), builtinRules...),
		keys:     make(map[string]struct{}, len(builtinKeys)),
		redacted: "[REDACTED]",
	}
	for _, k := range builtinKeys {
		s.AddSensitiveKey(k)
	}
	return s
}

// Sanitize returns input with every secret replaced by the placeholder.
func (s *Sanitizer) Sanitize(input string) string {
	placeholder := strings.ReplaceAll(s.redacted, "$", "$$")
	for _, r := range s.rules {
		input = r.re.ReplaceAllString(input, r.before+placeholder+r.after)
	}
	return input
}

// SensitiveKey reports whether values logged under key are always redacted.
func (s *Sanitizer) SensitiveKey(key string) bool {
	_, ok := s.keys[strings.ToLower(key)]
	return ok
}

// AddSensitiveKey marks an attribute key for unconditional redaction.
func (s *Sanitizer) AddSensitiveKey(key string) {
	s.keys[strings.ToLower(key)] = struct{}{}
}

// SanitizeMap returns a copy of m with nested maps and strings sanitized.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if s.SensitiveKey(k) {
			out[k] = s.redacted
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = s.Sanitize(val)
		case map[string]interface{}:
			out[k] = s.SanitizeMap(val)
		default:
			out[k] = v
		}
	}
	return out
}

// AddPattern redacts every match of pattern from now on.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.rules = append(s.rules, rule{re: re})
	return nil
}

// SetRedactedPlaceholder replaces "[REDACTED]" as the substitute text.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.redacted = placeholder
}
