package content

import (
	"regexp"
	"strings"
	"unicode"
)

// injectionPatterns are rejected outright rather than escaped: transactional
// messages never legitimately contain them.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript_uri", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"event_handler", regexp.MustCompile(`(?i)<[^>]+\son\w+\s*=`)},
	{"iframe", regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`)},
	{"data_html", regexp.MustCompile(`(?i)data\s*:\s*text/html`)},
	{"css_expression", regexp.MustCompile(`(?i)style\s*=\s*["'][^"']*expression\s*\(`)},
	{"sql_drop", regexp.MustCompile(`(?i);\s*drop\s+(table|database)\b`)},
	{"sql_union", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"sql_tautology", regexp.MustCompile(`(?i)'\s*or\s+'?1'?\s*=\s*'?1`)},
}

// DetectInjection returns the name of the first matching pattern, or "".
func DetectInjection(s string) string {
	for _, p := range injectionPatterns {
		if p.re.MatchString(s) {
			return p.name
		}
	}
	return ""
}

// StripControl removes control characters except tab and newline.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// SingleLine collapses a header value to one line, preventing header
// injection through CR/LF in email subjects.
func SingleLine(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeNewlines converts CRLF and CR to LF.
func NormalizeNewlines(s string) string {
	return strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(s)
}
