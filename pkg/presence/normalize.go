package presence

import (
	"strings"
	"unicode"
)

// knownPlatformTags are parenthesized suffixes some server builds append
// to console players' names
var knownPlatformTags = map[string]bool{
	"ps":       true,
	"ps4":      true,
	"ps5":      true,
	"psn":      true,
	"xbox":     true,
	"xbl":      true,
	"nintendo": true,
	"switch":   true,
}

// Normalize canonicalizes a player name so two spellings of the same
// player compare equal: case-folded, invisible runes stripped, internal
// whitespace collapsed, known platform suffix removed. Idempotent.
func Normalize(name string) string {
	// Drop zero-width and other invisible format runes.
	name = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, name)

	// Collapse runs of whitespace, including leading/trailing.
	name = strings.Join(strings.Fields(name), " ")

	name = strings.ToLower(name)

	name = stripPlatformTag(name)

	return name
}

// stripPlatformTag removes a trailing parenthesized platform marker like
// "(xbox)" but leaves unknown parentheticals alone: they may be part of
// the actual name.
func stripPlatformTag(name string) string {
	if !strings.HasSuffix(name, ")") {
		return name
	}
	open := strings.LastIndex(name, "(")
	if open <= 0 {
		return name
	}
	tag := name[open+1 : len(name)-1]
	if !knownPlatformTags[tag] {
		return name
	}
	return strings.TrimRight(name[:open], " ")
}
