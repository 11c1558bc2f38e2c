package entity_detector

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	possessiveRe = regexp.MustCompile(`'s?\b`)
	wordRe       = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// singularForms folds common plural tokens onto the singular the keyword
// tables and card names use. Irregulars first, then the frequent regular
// plurals seen in practice; anything else is left alone.
var singularForms = map[string]string{
	"wives": "wife",
	"lives": "life",

	"bosses":       "boss",
	"colleagues":   "colleague",
	"coaches":      "coach",
	"universities": "university",
	"activities":   "activity",

	"friends":      "friend",
	"parents":      "parent",
	"siblings":     "sibling",
	"cousins":      "cousin",
	"teachers":     "teacher",
	"classmates":   "classmate",
	"teammates":    "teammate",
	"neighbors":    "neighbor",
	"kids":         "kid",
	"boys":         "boy",
	"girls":        "girl",
	"achievements": "achievement",
	"colleges":     "college",
	"goals":        "goal",
}

// normalizeText lowercases, strips possessives ("wife's" -> "wife") and
// folds known plurals so matching sees canonical tokens.
func normalizeText(text string) string {
	text = strings.ToLower(text)
	text = possessiveRe.ReplaceAllString(text, "")
	return wordRe.ReplaceAllStringFunc(text, func(word string) string {
		if singular, ok := singularForms[word]; ok {
			return singular
		}
		return word
	})
}

// containsWholeWord reports whether needle occurs in haystack bounded by
// non-alphanumeric runes on both sides. Prevents "achievement" from
// matching inside "overachievements".
func containsWholeWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		if boundaryBefore(haystack, idx) && boundaryAfter(haystack, end) {
			return true
		}
		start = idx + 1
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r := lastRune(s[:idx])
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r := firstRune(s[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
