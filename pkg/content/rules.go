package content

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// E.164-like: optional +, no leading zero, 8 to 15 digits.
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
)

// Rule is a single check with the error reported when it fails.
type Rule struct {
	Check func() bool
	Error ValidationError
}

// Apply runs every rule and collects failures.
func Apply(rules ...Rule) ValidationErrors {
	var errs ValidationErrors
	for _, r := range rules {
		if !r.Check() {
			errs = append(errs, r.Error)
		}
	}
	return errs
}

func required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Code: CodeRequired, Message: "is required"},
	}
}

func validEmail(field, value string) Rule {
	return Rule{
		Check: func() bool { return IsEmail(value) },
		Error: ValidationError{Field: field, Code: CodeEmail, Message: "must be a valid email address"},
	}
}

func validPhone(field, value string) Rule {
	return Rule{
		Check: func() bool { return IsPhone(value) },
		Error: ValidationError{Field: field, Code: CodePhone, Message: "must be a valid phone number in international format"},
	}
}

func maxChars(field, value string, limit int) Rule {
	return Rule{
		Check: func() bool { return utf8.RuneCountInString(value) <= limit },
		Error: ValidationError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("must be at most %d characters", limit)},
	}
}

func noInjection(field, value string) Rule {
	return Rule{
		Check: func() bool { return DetectInjection(value) == "" },
		Error: ValidationError{Field: field, Code: CodeInjection, Message: "contains a forbidden pattern"},
	}
}

// IsEmail checks the address with a strict pattern and RFC 5322 parsing.
func IsEmail(s string) bool {
	s = strings.TrimSpace(s)
	if !emailRegex.MatchString(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsPhone accepts international numbers with common separators.
func IsPhone(s string) bool {
	return phoneRegex.MatchString(NormalizePhone(s))
}

// NormalizePhone strips spaces, dashes, dots and parentheses.
func NormalizePhone(s string) string {
	return phoneSeparators.Replace(strings.TrimSpace(s))
}
