// Package llmjson decodes JSON objects out of freeform model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoObject = errors.New("no json object in completion")

// Decode finds the outermost JSON object in raw and unmarshals it into v.
// Models frequently wrap the object in prose or a fenced code block.
func Decode(raw string, v any) error {
	obj, err := Extract(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("unmarshal completion: %w", err)
	}
	return nil
}

// Extract returns the substring from the first '{' to the last '}'.
func Extract(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoObject
	}
	return s[start : end+1], nil
}
