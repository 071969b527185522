package workflow

import (
	"fmt"
	"strings"
)

const maxFallbackSteps = 3

// FallbackResult reports the steps a fallback pass synthesized and the
// need keys those steps consumed.
type FallbackResult struct {
	Steps        []Step
	ConsumedKeys map[string]bool
}

// BuildFallbackSteps converts open targeted needs into executable steps
// when the oracle has not acted on them. Needs targeting the coordinator
// or an unknown worker are left untouched; steps duplicating a pending
// step (same worker and goal, case-insensitive) consume the need without
// scheduling. At most three steps are produced per invocation.
func BuildFallbackSteps(openNeeds []Need, reg *Registry, pending []Step, coordinator string) FallbackResult {
	res := FallbackResult{ConsumedKeys: make(map[string]bool)}

	existing := make(map[string]bool)
	for _, s := range pending {
		existing[stepSignature(s.WorkerID, s.Goal)] = true
	}
	coordinatorKey := registryKey(coordinator)
	local := make(map[string]bool)

	for _, need := range openNeeds {
		target, request := ParseTargetedNeed(need.RawText)
		if target == "" || request == "" {
			continue
		}
		targetKey := registryKey(target)
		if targetKey == coordinatorKey {
			continue
		}
		w, ok := reg.Lookup(target)
		if !ok {
			continue
		}

		canonical := targetKey + "|" + strings.ToLower(request)
		if local[canonical] {
			continue
		}

		goal := fmt.Sprintf("Handle unresolved follow-up need from previous collaboration output.\nRequested need: %s", request)
		sig := stepSignature(w.ID, goal)
		if existing[sig] {
			res.ConsumedKeys[NeedKey(need.RawText)] = true
			continue
		}

		var hints []string
		for _, name := range w.ToolNames() {
			if containsFold(hints, name) {
				continue
			}
			hints = append(hints, name)
			if len(hints) >= 4 {
				break
			}
		}

		res.Steps = append(res.Steps, Step{
			WorkerID:    w.ID,
			Goal:        truncate(goal, 1000),
			Deliverable: truncate(fmt.Sprintf("Concrete response/evidence addressing: %s", request), 1000),
			ToolHints:   hints,
		})
		local[canonical] = true
		existing[sig] = true
		res.ConsumedKeys[NeedKey(need.RawText)] = true

		if len(res.Steps) >= maxFallbackSteps {
			break
		}
	}
	return res
}

func stepSignature(workerID, goal string) string {
	return strings.ToLower(strings.TrimSpace(workerID)) + "|" + strings.ToLower(strings.TrimSpace(goal))
}
