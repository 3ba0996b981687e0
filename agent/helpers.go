package agent

import (
	"regexp"
	"strings"
)

// extractJSON extracts JSON from markdown code blocks
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Try json code block
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+7:]
		if endIdx := strings.Index(content, "```"); endIdx >= 0 {
			content = content[:endIdx]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		// Try generic code block
		content = content[idx+3:]
		if endIdx := strings.Index(content, "```"); endIdx >= 0 {
			content = content[:endIdx]
		}
	}

	return strings.TrimSpace(content)
}

var codeFenceRegex = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.+?)\\s*```")

// extractCode strips markdown fences the model still produced around a
// generated script. Without a fence the whole response is the script.
func extractCode(content string) string {
	if matches := codeFenceRegex.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(content)
}
