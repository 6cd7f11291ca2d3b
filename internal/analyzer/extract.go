package analyzer

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:javascript|typescript|mjs|js|ts)?[ \\t]*\\r?\\n?(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`\\n]+)`")
)

// ExtractCode pulls script text out of a chat message: fenced code blocks
// first, then inline code spans, else the whole message.
func ExtractCode(message string) string {
	if blocks := fencedBlock.FindAllStringSubmatch(message, -1); len(blocks) > 0 {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if code := strings.Trim(b[1], "\r\n"); strings.TrimSpace(code) != "" {
				parts = append(parts, code)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	if spans := inlineCode.FindAllStringSubmatch(message, -1); len(spans) > 0 {
		parts := make([]string, 0, len(spans))
		for _, s := range spans {
			parts = append(parts, s[1])
		}
		return strings.Join(parts, "\n")
	}
	return strings.TrimSpace(message)
}
