package workflow

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/crewline/internal/jsonx"
)

const (
	maxNeedLength = 300
	maxNeedCount  = 12
)

var (
	bulletPrefixRe  = regexp.MustCompile(`^[-*]\s*`)
	numberPrefixRe  = regexp.MustCompile(`^\d+\.\s*`)
	targetPrefixRe  = regexp.MustCompile(`^\[([^\[\]]{1,80})\]\s*(.+)$`)
	sectionHeaderRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _/-]{0,40}:$`)
)

// need sentinels cancel the entire extracted list, not just the entry.
var needSentinels = map[string]bool{
	"none": true,
	"n/a":  true,
	"no":   true,
	"null": true,
	"없음":   true,
}

// NormalizeNeedText collapses whitespace, strips a leading bullet or
// numeric prefix, and caps the result at 300 characters.
func NormalizeNeedText(value string) string {
	compact := strings.Join(strings.Fields(value), " ")
	compact = bulletPrefixRe.ReplaceAllString(compact, "")
	compact = numberPrefixRe.ReplaceAllString(compact, "")
	if len(compact) > maxNeedLength {
		compact = compact[:maxNeedLength]
	}
	return compact
}

// ParseTargetedNeed splits a "[WorkerName] request" need into its target
// and request. Both are empty when the text carries no target prefix.
func ParseTargetedNeed(need string) (target, request string) {
	token := NormalizeNeedText(need)
	if token == "" {
		return "", ""
	}
	m := targetPrefixRe.FindStringSubmatch(token)
	if m == nil {
		return "", ""
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

func stripTargetPrefix(need string) string {
	if _, req := ParseTargetedNeed(need); req != "" {
		return req
	}
	return need
}

// ExtractNeeds parses follow-up needs from a worker response. It prefers
// a structured additional_needs field in an embedded JSON object and
// falls back to scanning for an "Additional Needs:" marker line. A
// sentinel value (none, n/a, no, null, 없음) anywhere in the list cancels
// the whole list. A sentinel is only recognized when it is the entire
// normalized entry, so a targeted need like "[MainAgent] none" passes
// through as-is.
func ExtractNeeds(text string) []Need {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil
	}

	if obj := jsonx.ExtractObject(raw); obj != nil {
		switch v := obj["additional_needs"].(type) {
		case []interface{}:
			var collected []string
			seen := make(map[string]bool)
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					continue
				}
				need := NormalizeNeedText(s)
				if need == "" {
					continue
				}
				key := strings.ToLower(need)
				if needSentinels[key] {
					return nil
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				collected = append(collected, need)
				if len(collected) >= maxNeedCount {
					break
				}
			}
			return toNeeds(collected)
		case string:
			token := NormalizeNeedText(v)
			if needSentinels[strings.ToLower(token)] {
				return nil
			}
			if token != "" {
				return toNeeds([]string{token})
			}
			return nil
		}
	}

	return toNeeds(scanNeedLines(raw))
}

func scanNeedLines(raw string) []string {
	lines := strings.Split(raw, "\n")
	markerIndex := -1
	inline := ""
	for idx, line := range lines {
		stripped := strings.TrimSpace(line)
		lowered := strings.ToLower(stripped)
		if strings.HasPrefix(lowered, "additional needs:") {
			markerIndex = idx
			inline = strings.TrimSpace(stripped[len("additional needs:"):])
			break
		}
		if lowered == "additional needs" {
			markerIndex = idx
			break
		}
	}
	if markerIndex < 0 {
		return nil
	}

	var needs []string
	seen := make(map[string]bool)

	if inline != "" {
		token := NormalizeNeedText(inline)
		if needSentinels[strings.ToLower(token)] {
			return nil
		}
		if token != "" {
			seen[strings.ToLower(token)] = true
			needs = append(needs, token)
		}
	}

	for _, line := range lines[markerIndex+1:] {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			if len(needs) > 0 {
				break
			}
			continue
		}
		// Stop at a likely next section heading.
		if len(needs) > 0 && sectionHeaderRe.MatchString(stripped) {
			break
		}
		token := NormalizeNeedText(stripped)
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if needSentinels[key] {
			return nil
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		needs = append(needs, token)
		if len(needs) >= maxNeedCount {
			break
		}
	}
	return needs
}

func toNeeds(texts []string) []Need {
	if len(texts) == 0 {
		return nil
	}
	out := make([]Need, 0, len(texts))
	for _, t := range texts {
		target, _ := ParseTargetedNeed(t)
		out = append(out, Need{RawText: t, TargetWorker: target})
	}
	return out
}

// NeedKey is the dedup and removal key for a need: its lowercased,
// trimmed text.
func NeedKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// NeedTracker accumulates open needs across steps with insertion-ordered
// deduplication.
type NeedTracker struct {
	seen  map[string]bool
	needs []Need
}

func NewNeedTracker() *NeedTracker {
	return &NeedTracker{seen: make(map[string]bool)}
}

// Add records needs not already tracked, preserving arrival order.
func (t *NeedTracker) Add(needs ...Need) {
	for _, n := range needs {
		key := NeedKey(n.RawText)
		if key == "" || t.seen[key] {
			continue
		}
		t.seen[key] = true
		t.needs = append(t.needs, n)
	}
}

// AddTexts normalizes and records plain-text needs.
func (t *NeedTracker) AddTexts(texts ...string) {
	for _, text := range texts {
		token := NormalizeNeedText(text)
		if token == "" {
			continue
		}
		target, _ := ParseTargetedNeed(token)
		t.Add(Need{RawText: token, TargetWorker: target})
	}
}

// Needs returns the open needs in insertion order.
func (t *NeedTracker) Needs() []Need {
	out := make([]Need, len(t.needs))
	copy(out, t.needs)
	return out
}

func (t *NeedTracker) Len() int { return len(t.needs) }

// Remove drops every tracked need whose key appears in consumed.
func (t *NeedTracker) Remove(consumed map[string]bool) {
	if len(consumed) == 0 || len(t.needs) == 0 {
		return
	}
	kept := t.needs[:0]
	for _, n := range t.needs {
		key := NeedKey(n.RawText)
		if consumed[key] {
			delete(t.seen, key)
			continue
		}
		kept = append(kept, n)
	}
	t.needs = kept
}
