package similarity

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// Normalize folds a title to lowercase ASCII words. Accents are transliterated,
// "&" reads as "and", and punctuation other than word separators is dropped.
func Normalize(title string) string {
	title = unidecode.Unidecode(title)
	title = strings.ReplaceAll(title, "&", " and ")

	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == ':':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SameTitle reports whether two titles name the same work once normalized.
// Both years must be known and equal.
func SameTitle(titleA string, yearA int, titleB string, yearB int) bool {
	if yearA <= 0 || yearB <= 0 || yearA != yearB {
		return false
	}
	a, b := Normalize(titleA), Normalize(titleB)
	return a != "" && a == b
}
