// Package ai provides response cleaning utilities for handling malformed LLM responses.
package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseCleaner handles cleaning and sanitizing LLM responses before they
// are decoded into structured results.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanJSONResponse strips markdown fences, extracts the JSON object from
// surrounding prose, and repairs common formatting slips.
func (rc *ResponseCleaner) CleanJSONResponse(response string) string {
	response = rc.removeMarkdownBlocks(response)
	response = rc.extractJSON(response)
	response = rc.validateAndFix(response)
	return response
}

func (rc *ResponseCleaner) removeMarkdownBlocks(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// extractJSON returns the first balanced {...} object found in the response.
func (rc *ResponseCleaner) extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}
	braceCount := 0
	end := start
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				end = i
				i = len(response)
			}
		}
	}
	if end > start {
		return response[start : end+1]
	}
	return response
}

func (rc *ResponseCleaner) validateAndFix(response string) string {
	var tmp any
	if err := json.Unmarshal([]byte(response), &tmp); err == nil {
		return response
	}
	return rc.fixCommonJSONIssues(response)
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)(\w+):`)
)

func (rc *ResponseCleaner) fixCommonJSONIssues(response string) string {
	response = trailingCommaRe.ReplaceAllString(response, "$1")
	response = unquotedKeyRe.ReplaceAllString(response, `$1"$2":`)
	response = strings.ReplaceAll(response, "'", "\"")
	return response
}

// IsValidJSON checks if a string is valid JSON.
func (rc *ResponseCleaner) IsValidJSON(response string) bool {
	var tmp any
	return json.Unmarshal([]byte(response), &tmp) == nil
}

// CleanAndValidateJSON cleans a response and reports whether the result
// decodes as JSON.
func (rc *ResponseCleaner) CleanAndValidateJSON(response string) (string, error) {
	cleaned := rc.CleanJSONResponse(response)
	if !rc.IsValidJSON(cleaned) {
		return "", &JSONValidationError{
			Original: response,
			Cleaned:  cleaned,
			Message:  "cleaned response is still not valid JSON",
		}
	}
	return cleaned, nil
}

// JSONValidationError reports a response that could not be repaired into
// valid JSON.
type JSONValidationError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *JSONValidationError) Error() string {
	return e.Message
}
