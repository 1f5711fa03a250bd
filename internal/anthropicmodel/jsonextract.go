package anthropicmodel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// extractJSON pulls a JSON value out of model output that may be wrapped in
// markdown fences or preceded/followed by prose, trying progressively looser
// strategies until one parses.
func extractJSON(s string) (string, error) {
	trimmed := strings.TrimSpace(s)

	if isValidJSON(trimmed) {
		return trimmed, nil
	}

	cleaned := stripMarkdownFences(trimmed)
	if isValidJSON(cleaned) {
		return cleaned, nil
	}

	if extracted, err := extractJSONWithRegex(trimmed); err == nil && isValidJSON(extracted) {
		return extracted, nil
	}

	if extracted, err := extractJSONByScanning(trimmed); err == nil && isValidJSON(extracted) {
		return extracted, nil
	}

	return cleaned, nil
}

func stripMarkdownFences(s string) string {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func isValidJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

var (
	jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
	jsonArrayPattern  = regexp.MustCompile(`\[[\s\S]*\]`)
)

func extractJSONWithRegex(s string) (string, error) {
	if match := jsonObjectPattern.FindString(s); match != "" {
		return strings.TrimSpace(match), nil
	}
	if match := jsonArrayPattern.FindString(s); match != "" {
		return strings.TrimSpace(match), nil
	}
	return "", fmt.Errorf("no JSON structure found")
}

func extractJSONByScanning(s string) (string, error) {
	lines := strings.Split(s, "\n")
	var jsonLines []string
	var inJSON bool
	var braceCount, bracketCount int

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)

		if !inJSON && trimmedLine == "" {
			continue
		}
		if !inJSON && (strings.HasPrefix(trimmedLine, "{") || strings.HasPrefix(trimmedLine, "[")) {
			inJSON = true
		}

		if inJSON {
			jsonLines = append(jsonLines, line)
			for _, ch := range line {
				switch ch {
				case '{':
					braceCount++
				case '}':
					braceCount--
				case '[':
					bracketCount++
				case ']':
					bracketCount--
				}
			}
			if braceCount == 0 && bracketCount == 0 && len(jsonLines) > 0 {
				return strings.TrimSpace(strings.Join(jsonLines, "\n")), nil
			}
		}
	}

	return "", fmt.Errorf("no complete JSON structure found")
}
