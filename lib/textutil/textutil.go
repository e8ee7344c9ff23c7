package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeDriverName produces the key used to match a driver's display
// name across the summary table and the lap payload: NFKC-normalized,
// case-folded, inner whitespace collapsed to a single space.
func NormalizeDriverName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.ToLower(name)
	name = strings.TrimSpace(name)
	return whitespaceRegex.ReplaceAllString(name, " ")
}

// NormalizeHeader reduces a table header to a comparable key, e.g.
// "Fastest Lap " -> "fastestlap".
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRegex.ReplaceAllString(s, "")
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns free text into a lowercase dash-separated slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// TitleFromSlug is the inverse best-effort of Slugify, used when a
// payload carries no display name for an entity.
func TitleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
