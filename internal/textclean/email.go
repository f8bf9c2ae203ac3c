package textclean

import (
	"html"
	"regexp"
	"strings"
)

// looksLikeEmail is intentionally conservative.
var reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// CleanEmail normalizes a scraped email value.
//
// Steps:
//  1. HTML-unescape (e.g. "me&#64;example.com").
//  2. Strip a leading "mailto:" (any case) and any "?subject=..." suffix.
//  3. Trim and lowercase the domain part.
//  4. Validate with a conservative regex.
//
// It returns "" when the result does not look like an email.
func CleanEmail(s string) string {
	email := strings.TrimSpace(html.UnescapeString(s))
	if len(email) >= 7 && strings.EqualFold(email[:7], "mailto:") {
		email = email[7:]
	}
	if i := strings.IndexByte(email, '?'); i >= 0 {
		email = email[:i]
	}
	email = strings.TrimSpace(email)

	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	email = email[:at+1] + strings.ToLower(email[at+1:])

	if LooksLikeEmail(email) {
		return email
	}
	return ""
}

// LooksLikeEmail reports whether s is a plausible address.
func LooksLikeEmail(s string) bool {
	return reEmail.MatchString(s)
}
