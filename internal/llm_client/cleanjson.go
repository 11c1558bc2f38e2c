package llm_client

import (
	"regexp"
	"strings"
)

var (
	trailingCommaObjRe = regexp.MustCompile(`,\s*}`)
	trailingCommaArrRe = regexp.MustCompile(`,\s*]`)
)

// CleanJSON strips markdown code fences and trailing commas from model
// output so the result can be fed to a JSON decoder. Models frequently
// wrap JSON in ```json fences despite instructions not to.
func CleanJSON(raw string) string {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = fencedBody(text, idx+len("```json"))
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = fencedBody(text, idx+len("```"))
	}

	text = trailingCommaObjRe.ReplaceAllString(text, "}")
	text = trailingCommaArrRe.ReplaceAllString(text, "]")
	return strings.TrimSpace(text)
}

func fencedBody(text string, start int) string {
	body := text[start:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
