// Package jsonx extracts JSON objects from free-form LLM output.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractObject attempts to decode a JSON object from raw model output.
// It tries, in order: a strict parse of the whole text, the first fenced
// ```json block, and the first-{ to last-} substring. It returns nil when
// no strategy yields an object.
func ExtractObject(text string) map[string]interface{} {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return nil
	}

	if obj := decodeObject(stripped); obj != nil {
		return obj
	}

	if m := fencedRe.FindStringSubmatch(stripped); m != nil {
		if obj := decodeObject(strings.TrimSpace(m[1])); obj != nil {
			return obj
		}
	}

	start := strings.Index(stripped, "{")
	end := strings.LastIndex(stripped, "}")
	if start >= 0 && end > start {
		if obj := decodeObject(stripped[start : end+1]); obj != nil {
			return obj
		}
	}

	return nil
}

func decodeObject(candidate string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil
	}
	return obj
}

// StringField returns the trimmed string value for key, or "".
func StringField(obj map[string]interface{}, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// BoolField returns the boolean value for key, or false.
func BoolField(obj map[string]interface{}, key string) bool {
	if obj == nil {
		return false
	}
	b, _ := obj[key].(bool)
	return b
}

// StringSliceField returns the string members of a list value for key,
// trimmed, skipping non-string entries.
func StringSliceField(obj map[string]interface{}, key string) []string {
	if obj == nil {
		return nil
	}
	raw, ok := obj[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if token := strings.TrimSpace(s); token != "" {
			out = append(out, token)
		}
	}
	return out
}
