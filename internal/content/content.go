package content

import (
	"bytes"
	"errors"
	"html"
	"html/template"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy      = bluemonday.UGCPolicy()
	strict      = bluemonday.StrictPolicy()
	markdown    = goldmark.New()
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	passwordSet = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,}$`)
)

// Sanitize removes unsafe HTML from the input string using a UGC policy.
// It is used for message text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes all HTML, leaving only text. It is used for names.
func StripTags(input string) string {
	return html.UnescapeString(strict.Sanitize(input))
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// RenderMarkdown converts markdown text to sanitized HTML. Rendering
// failures fall back to the escaped input.
func RenderMarkdown(input string) string {
	if input == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return Escape(input)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the loose address shape accepted at signup.
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return errors.New("please provide a valid email address")
	}
	return nil
}

// ValidatePassword requires at least 8 characters from [A-Za-z0-9@$!%*?&]
// including an uppercase letter, a lowercase letter, a digit and a special
// character.
func ValidatePassword(password string) error {
	if !passwordSet.MatchString(password) {
		return errors.New("password must be at least 8 characters long and contain uppercase, lowercase, number, and special character (@$!%*?&)")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return errors.New("password must be at least 8 characters long and contain uppercase, lowercase, number, and special character (@$!%*?&)")
	}
	return nil
}

// ValidateName trims a profile name, strips markup and requires at least
// two characters.
func ValidateName(name string) (string, error) {
	clean := strings.TrimSpace(StripTags(name))
	if len([]rune(clean)) < 2 {
		return "", errors.New("first name and last name must be at least 2 characters long")
	}
	return clean, nil
}
