// Package sanitize cleans user-supplied text fields before they are stored.
// Account fields such as usernames are plain text, so every HTML tag is
// stripped with bluemonday's strict policy.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict     *bluemonday.Policy
	strictOnce sync.Once
)

func strictPolicy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// controlChars matches C0 control characters except tab, LF and CR, plus DEL.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// maxPasses bounds how many layers of entity encoding stripMarkup peels.
const maxPasses = 8

// Text trims input, caps it at maxLen runes, removes control characters and
// strips HTML. The result is stored as plain text, so entities are decoded.
func Text(input string, maxLen int) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	if r := []rune(s); maxLen > 0 && len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return strings.TrimSpace(stripMarkup(s))
}

// stripMarkup sanitizes and decodes s until the output stops changing, so
// entity-encoded markup cannot turn back into tags. Input still changing
// after maxPasses is returned in its escaped form.
func stripMarkup(s string) string {
	var clean string
	for i := 0; i < maxPasses; i++ {
		clean = strictPolicy().Sanitize(controlChars.ReplaceAllString(s, ""))
		next := html.UnescapeString(clean)
		if next == s {
			return s
		}
		s = next
	}
	return clean
}
