package launch

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxNameLength bounds the length, in characters, of a normalized name.
const MaxNameLength = 30

var parenthesized = regexp.MustCompile(`\([^)]*\)`)

// NormalizeString turns a display value into a platform-safe identifier. The
// value is cut to MaxNameLength characters, stripped of everything except
// letters, digits, '_' and '-', stripped of leading '_', '.' and '-', and
// lower-cased. The result may be shorter than MaxNameLength or empty.
func NormalizeString(s string) string {
	r := []rune(s)
	if len(r) > MaxNameLength {
		r = r[:MaxNameLength]
	}
	out := keepWordChars(string(r))
	out = strings.TrimLeft(out, "_.-")
	return strings.ToLower(out)
}

// EmailToUsername returns the lower-cased local part of email with any
// "+tag" suffix and parenthesized comment removed and only letters, digits,
// '_' and '-' kept.
func EmailToUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local, _, _ = strings.Cut(local, "+")
	local = parenthesized.ReplaceAllString(local, "")
	return strings.ToLower(keepWordChars(local))
}

func keepWordChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return -1
	}, s)
}
