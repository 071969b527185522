package workflow

import (
	"fmt"
	"sort"
	"strings"
)

const (
	maxPlanSteps  = 8
	maxToolHints  = 8
	maxFieldChars = 800
	defaultGoal   = "Handle this step with your specialization and provide a handoff-ready output."
)

// DomainMap maps a capability domain to the keyword tokens that signal
// it in free text. Supplied by configuration; see DefaultDomainMap.
type DomainMap map[string][]string

// DefaultDomainMap covers the stock research/web/social split.
func DefaultDomainMap() DomainMap {
	return DomainMap{
		"paper": {"paper", "papers", "pdf", "research"},
		"web":   {"web", "article", "articles", "news", "search_web", "fetch_web"},
		"sns":   {"sns", "social", "post", "posts"},
	}
}

// DomainsOfText returns the domains whose keywords appear in text.
func (m DomainMap) DomainsOfText(text string) map[string]bool {
	lowered := strings.ToLower(text)
	found := make(map[string]bool)
	for domain, tokens := range m {
		for _, token := range tokens {
			if token != "" && strings.Contains(lowered, token) {
				found[domain] = true
				break
			}
		}
	}
	return found
}

// WorkerDomains derives a worker's domain tags from its ID, description,
// capabilities, and tool metadata.
func (m DomainMap) WorkerDomains(w Worker) map[string]bool {
	var parts []string
	parts = append(parts, w.ID, w.Description)
	parts = append(parts, w.Capabilities...)
	for _, t := range w.Tools {
		parts = append(parts, t.Name, t.Description)
	}
	return m.DomainsOfText(strings.Join(parts, " "))
}

// NormalizePlan validates oracle-proposed steps against the registry.
// Steps naming unknown workers are dropped, a missing goal gets a
// default, tool hints are deduped and capped, and the plan is capped at
// eight steps.
func NormalizePlan(raw []RawStep, reg *Registry) []Step {
	var steps []Step
	for _, item := range raw {
		w, ok := reg.Lookup(item.Worker)
		if !ok {
			continue
		}

		goal := strings.TrimSpace(item.Goal)
		if goal == "" {
			goal = defaultGoal
		}
		deliverable := strings.TrimSpace(item.Deliverable)

		var hints []string
		for _, hint := range item.ToolHints {
			token := strings.TrimSpace(hint)
			if token == "" || containsFold(hints, token) {
				continue
			}
			hints = append(hints, token)
			if len(hints) >= maxToolHints {
				break
			}
		}

		steps = append(steps, Step{
			WorkerID:    w.ID,
			Goal:        truncate(goal, maxFieldChars),
			Deliverable: truncate(deliverable, maxFieldChars),
			ToolHints:   hints,
		})
		if len(steps) >= maxPlanSteps {
			break
		}
	}
	return steps
}

// AugmentCoverage appends one synthesized step per capability domain the
// user (or the oracle's plan text) requested but no selected worker
// covers, picking the unselected worker with the highest domain overlap.
// It returns the augmented steps and a note describing what was added.
func AugmentCoverage(steps []Step, reg *Registry, domains DomainMap, userInput, planText string) ([]Step, string) {
	if len(domains) == 0 || reg == nil {
		return steps, ""
	}

	requested := domains.DomainsOfText(userInput)
	for d := range domains.DomainsOfText(planText) {
		requested[d] = true
	}
	if len(requested) == 0 {
		return steps, ""
	}

	selected := make(map[string]bool)
	for _, s := range steps {
		selected[registryKey(s.WorkerID)] = true
	}

	workers := reg.Workers()
	tagsByKey := make(map[string]map[string]bool, len(workers))
	for _, w := range workers {
		tagsByKey[registryKey(w.ID)] = domains.WorkerDomains(w)
	}

	covered := make(map[string]bool)
	for key := range selected {
		for d := range tagsByKey[key] {
			covered[d] = true
		}
	}

	var missing []string
	for d := range requested {
		if !covered[d] {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return steps, ""
	}
	sort.Strings(missing)

	var added []string
	for _, domain := range missing {
		best := ""
		bestOverlap := -1
		for _, w := range workers {
			key := registryKey(w.ID)
			if selected[key] || !tagsByKey[key][domain] {
				continue
			}
			overlap := 0
			for d := range tagsByKey[key] {
				if requested[d] {
					overlap++
				}
			}
			if overlap > bestOverlap {
				bestOverlap = overlap
				best = key
			}
		}
		if best == "" {
			continue
		}
		w, _ := reg.Lookup(best)
		steps = append(steps, coverageStep(w, domain, userInput))
		selected[best] = true
		for d := range tagsByKey[best] {
			covered[d] = true
		}
		added = append(added, w.ID)
		if len(steps) >= maxPlanSteps {
			break
		}
	}
	if len(added) == 0 {
		return steps, ""
	}

	var reqList []string
	for d := range requested {
		reqList = append(reqList, d)
	}
	sort.Strings(reqList)
	note := fmt.Sprintf("Coverage-first adjustment added: %s (requested domains: %s).",
		strings.Join(added, ", "), strings.Join(reqList, ", "))
	return steps[:min(len(steps), maxPlanSteps)], note
}

func coverageStep(w Worker, domain, userInput string) Step {
	goal := fmt.Sprintf(
		"Lead %s evidence collection and analysis for this request, and surface gaps via Additional Needs for coordinator routing.\nUser request: %s",
		domain, userInput)
	deliverable := fmt.Sprintf("%s evidence summary with sources and relevance rationale.", domain)

	var hints []string
	for _, name := range w.ToolNames() {
		hints = append(hints, name)
		if len(hints) >= 3 {
			break
		}
	}
	return Step{
		WorkerID:    w.ID,
		Goal:        truncate(goal, maxFieldChars),
		Deliverable: truncate(deliverable, maxFieldChars),
		ToolHints:   hints,
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
