// Package matcher detects the "Sushi Masa" phrase in chat messages.
//
// The detector is a permissive scan over obfuscated spellings of one fixed phrase:
//   - every letter may be written as itself or a look-alike (s→$5z, u→v, h→#4, i→1!l|, m→nn, a→@4)
//   - every letter may repeat ("sssushiii")
//   - whitespace may appear between the letters of a word ("s u s h i")
//   - the two words may be separated by any run of Unicode whitespace or punctuation (ASCII
//     marks like ~ = | count as punctuation), but never by letters, digits or other symbols
//     ("sushi... masa" matches, "sushi and masa" and "sushi 🍣 masa" do not)
//
// The phrase must start a message or follow a character that is not a letter, digit or underscore. Matching is a substring
// search, so "I want sushi masa tonight" matches.
package matcher

import "regexp"

// gap is whitespace inside a word; sep is the run allowed between the words.
// \s alone is ASCII-only, so Unicode separators (NBSP, ideographic space) are added via \p{Z},
// and [:punct:] covers ASCII marks such as ~ = | < > that Unicode files under symbols.
const (
	gap = `[\s\p{Z}]*`
	sep = `[\s\p{Z}\pP[:punct:]]*`
)

const expr = `(?i)(?:^|[^\pL\pN_])` +
	`[s$5z]+` + gap + `[uv]+` + gap + `[s$5z]+` + gap + `[h#4]+` + gap + `[il1!|]+` +
	sep +
	`(?:m|nn)+` + gap + `[a@4]+` + gap + `[s$5z]+` + gap + `[a@4]+`

// phrase is compiled once; regexp.Regexp is safe for concurrent use.
var phrase = regexp.MustCompile(expr)

// Matches reports whether text contains the phrase. It is case-insensitive and never fails:
// empty strings and invalid UTF-8 are scanned like any other input.
//
// Several occurrences in one message still produce a single true.
func Matches(text string) bool {
	if text == "" {
		return false
	}
	return phrase.MatchString(text)
}
