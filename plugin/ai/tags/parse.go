package tags

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// parseTagsFromJSON parses JSON array from LLM response.
// Objects of the form {"tags": [...]} are accepted as well.
func parseTagsFromJSON(response string) []string {
	// Clean response (remove markdown code blocks if present)
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var wrapped struct {
		Tags []string `json:"tags"`
	}
	if strings.HasPrefix(response, "{") && json.Unmarshal([]byte(response), &wrapped) == nil && len(wrapped.Tags) > 0 {
		return wrapped.Tags
	}

	// Try to extract JSON array
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}

	var tags []string
	if err := json.Unmarshal([]byte(response), &tags); err != nil {
		tags = nil
		// Try line-by-line parsing as fallback
		lines := strings.Split(response, "\n")
		for _, line := range lines {
			line = strings.TrimSpace(line)
			line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
			line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if line != "" && utf8.RuneCountInString(line) <= maxTagLength {
				tags = append(tags, line)
			}
		}
	}

	return tags
}

// truncateLog truncates string for logging.
func truncateLog(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
