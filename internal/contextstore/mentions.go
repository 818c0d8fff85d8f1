package contextstore

import "regexp"

// mentionPattern matches @name tokens. Case-sensitive; first character
// must be a letter.
var mentionPattern = regexp.MustCompile(`@[A-Za-z][A-Za-z0-9_-]*`)

// AllRecipient is the synthetic broadcast recipient token.
const AllRecipient = "all"

// parseMentions extracts @-mention tokens from content, keeping only those
// present in valid (agent names plus the literal "all"), collapsing
// duplicates while preserving first-appearance order. Mention parsing
// never fails — an unrecognised @token is simply not a mention.
func parseMentions(content string, valid map[string]bool) []string {
	matches := mentionPattern.FindAllString(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1:] // strip leading '@'
		if !valid[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
