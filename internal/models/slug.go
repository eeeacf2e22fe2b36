package models

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

// ValidSlug reports whether s is usable as a group slug as given.
func ValidSlug(s string) bool {
	return len(s) <= MaxSlugLength && slugPattern.MatchString(s)
}

// SlugFromTitle derives a group slug from its title. Non-ASCII characters are
// transliterated, the result is lowercased, hyphenated and cut to
// MaxSlugLength. A title with nothing transliterable yields "group".
func SlugFromTitle(title string) string {
	s := truncateSlug(slug.Make(title), MaxSlugLength)
	if s == "" {
		return "group"
	}
	return s
}

// SuffixedSlug returns base with "-n" appended, shortening base so the result
// still fits MaxSlugLength. Used to retry a derived slug that is taken.
func SuffixedSlug(base string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	return truncateSlug(base, MaxSlugLength-len(suffix)) + suffix
}

func truncateSlug(s string, max int) string {
	if len(s) > max {
		s = s[:max]
	}
	return strings.Trim(s, "-")
}
