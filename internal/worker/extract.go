package worker

import "strings"

const (
	maxFragments        = 80
	maxFragmentsForJoin = 40
)

// ExtractResponseText pulls the reply text out of a remote worker's
// response payload. It prefers well-known locations (result parts, the
// status message, a nested root, the error message) and falls back to a
// recursive walk collecting every "text" field.
func ExtractResponseText(payload map[string]interface{}) string {
	if direct := extractMessageText(payload); direct != "" {
		return direct
	}

	var fragments []string
	collectTextFragments(payload, &fragments)

	var deduped []string
	seen := make(map[string]bool)
	for _, item := range fragments {
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, item)
		if len(deduped) >= maxFragmentsForJoin {
			break
		}
	}
	return strings.TrimSpace(strings.Join(deduped, "\n"))
}

func extractMessageText(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if result, ok := payload["result"].(map[string]interface{}); ok {
		if direct := textFromParts(result["parts"]); direct != "" {
			return direct
		}
		if status, ok := result["status"].(map[string]interface{}); ok {
			if msg, ok := status["message"].(map[string]interface{}); ok {
				if fromStatus := textFromParts(msg["parts"]); fromStatus != "" {
					return fromStatus
				}
			}
		}
	}
	if root, ok := payload["root"].(map[string]interface{}); ok {
		if fromRoot := extractMessageText(root); fromRoot != "" {
			return fromRoot
		}
	}
	if errObj, ok := payload["error"].(map[string]interface{}); ok {
		if msg, ok := errObj["message"].(string); ok {
			if token := strings.TrimSpace(msg); token != "" {
				return token
			}
		}
	}
	return ""
}

func textFromParts(v interface{}) string {
	parts, ok := v.([]interface{})
	if !ok {
		return ""
	}
	var chunks []string
	for _, part := range parts {
		obj, ok := part.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := obj["text"].(string); ok {
			if token := strings.TrimSpace(text); token != "" {
				chunks = append(chunks, token)
			}
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

func collectTextFragments(value interface{}, out *[]string) {
	if len(*out) >= maxFragments {
		return
	}
	switch v := value.(type) {
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			if token := strings.TrimSpace(text); token != "" {
				*out = append(*out, token)
			}
		}
		for key, item := range v {
			if key == "text" {
				continue
			}
			collectTextFragments(item, out)
		}
	case []interface{}:
		for _, item := range v {
			collectTextFragments(item, out)
		}
	}
}
