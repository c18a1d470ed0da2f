package handlers

import "strings"

const fence = "```"

var knownLanguages = map[string]struct{}{
	"python":     {},
	"javascript": {},
	"typescript": {},
	"html":       {},
	"css":        {},
	"bash":       {},
	"json":       {},
	"yaml":       {},
	"go":         {},
}

// ExtractCodeBlock returns the body of the first fenced block in text and the
// language tag it was labelled with. A first line naming a known language is
// dropped from the body; unknown tags are left in place. Text without a fence is
// returned whole.
func ExtractCodeBlock(text string) (code, language string) {
	start := strings.Index(text, fence)
	if start < 0 {
		return strings.TrimSpace(text), ""
	}

	body := text[start+len(fence):]
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}

	first, rest, _ := strings.Cut(body, "\n")
	tag := strings.ToLower(strings.TrimSpace(first))
	if _, ok := knownLanguages[tag]; ok {
		body = rest
		language = tag
	}

	return strings.TrimSpace(body), language
}
