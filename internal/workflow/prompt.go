package workflow

import (
	"fmt"
	"strings"
)

// BuildStepPayload assembles the full textual input for one step: the
// step's goal and hints, the catalog of delegate workers, prior outputs
// formatted for handoff, open needs, and the remaining plan.
func BuildStepPayload(workflowID, userInput, history string, step Step, w Worker, stepIndex, totalHint int, prior []StepResult, openNeeds []Need, remaining []Step, workers []Worker) string {
	hintsText := "(none)"
	if len(step.ToolHints) > 0 {
		var lines []string
		for _, h := range step.ToolHints {
			lines = append(lines, "- "+h)
		}
		hintsText = strings.Join(lines, "\n")
	}

	availableTools := "(not provided)"
	if names := w.ToolNames(); len(names) > 0 {
		availableTools = strings.Join(names, ", ")
	}

	goal := step.Goal
	if goal == "" {
		goal = "(no explicit goal provided)"
	}
	deliverable := step.Deliverable
	if deliverable == "" {
		deliverable = "(not specified)"
	}
	if history == "" {
		history = "(none)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are participating in a multi-worker collaboration workflow.\n")
	fmt.Fprintf(&b, "Current step: %d/%d\n", stepIndex, totalHint)
	fmt.Fprintf(&b, "Assigned worker: %s\n\n", w.ID)
	fmt.Fprintf(&b, "Workflow ID: %s\n\n", workflowID)
	fmt.Fprintf(&b, "Step goal:\n%s\n\n", goal)
	fmt.Fprintf(&b, "Expected handoff deliverable:\n%s\n\n", deliverable)
	fmt.Fprintf(&b, "Planner tool hints for this step:\n%s\n\n", hintsText)
	fmt.Fprintf(&b, "Worker available tools:\n%s\n\n", availableTools)
	b.WriteString("Rules:\n" +
		"- Focus only on this step.\n" +
		"- Use previous step outputs as key input.\n" +
		"- Use indirect delegation only: do not call other workers directly from this step.\n" +
		"- If a specialist can improve quality, request it in `Additional Needs` as `[TargetWorkerName] concrete request`.\n" +
		"- The coordinator will convert unresolved additional needs into replanned steps when feasible.\n" +
		"- If user clarification is required, route the question through the coordinator.\n" +
		"- Return output that the next step (or user) can directly consume.\n\n")
	fmt.Fprintf(&b, "Available workers for additional-need targeting:\n%s\n\n", FormatWorkerNames(workers))
	fmt.Fprintf(&b, "Worker capability profiles:\n%s\n\n", FormatWorkerProfiles(workers, w.ID))
	fmt.Fprintf(&b, "Conversation context (recent turns):\n%s\n\n", history)
	fmt.Fprintf(&b, "Original user request:\n%s\n\n", userInput)
	fmt.Fprintf(&b, "Shared progress context:\nPrevious step outputs:\n%s\n\n", FormatPriorResults(prior))
	fmt.Fprintf(&b, "Open additional needs:\n%s\n\n", FormatNeeds(openNeeds))
	fmt.Fprintf(&b, "Current remaining planned steps:\n%s\n\n", FormatRemainingSteps(remaining))
	b.WriteString("Output format:\n" +
		"1) Main response for this step.\n" +
		"2) Additional needs under heading 'Additional Needs:'.\n" +
		"   - If none: `Additional Needs: none`\n" +
		"   - If needed, use bullets with target prefix:\n" +
		"     - [TargetWorkerName] concrete request\n" +
		"   - TargetWorkerName must be one of the available workers listed above.")
	return b.String()
}

// FormatWorkerNames lists worker IDs one per line.
func FormatWorkerNames(workers []Worker) string {
	if len(workers) == 0 {
		return "(none)"
	}
	var lines []string
	for _, w := range workers {
		lines = append(lines, "- "+w.ID)
	}
	return strings.Join(lines, "\n")
}

// FormatWorkerProfiles renders each worker's capability card, skipping
// the worker whose ID matches current.
func FormatWorkerProfiles(workers []Worker, current string) string {
	var lines []string
	for _, w := range workers {
		if strings.EqualFold(w.ID, current) {
			continue
		}
		caps := "(none)"
		if len(w.Capabilities) > 0 {
			caps = strings.Join(w.Capabilities, ", ")
		}
		var toolEntries []string
		for _, t := range w.Tools {
			if t.Name == "" {
				continue
			}
			if t.Description != "" {
				toolEntries = append(toolEntries, t.Name+": "+t.Description)
			} else {
				toolEntries = append(toolEntries, t.Name)
			}
		}
		tools := "(not provided)"
		if len(toolEntries) > 0 {
			tools = strings.Join(toolEntries, "; ")
		}
		preview := w.InstructionPreview
		if preview == "" {
			preview = "(not provided)"
		}
		lines = append(lines, fmt.Sprintf("- name: %s\n  type: %s\n  description: %s\n  capabilities: %s\n  tools: %s\n  instruction_preview: %s",
			w.ID, w.Kind, w.Description, caps, tools, preview))
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// FormatPriorResults renders completed step outputs for handoff.
func FormatPriorResults(results []StepResult) string {
	if len(results) == 0 {
		return "(none)"
	}
	var parts []string
	for _, r := range results {
		prefix := fmt.Sprintf("Step %d - %s", r.StepIndex, r.WorkerID)
		if r.OK {
			parts = append(parts, fmt.Sprintf("[%s]\n%s", prefix, strings.TrimSpace(r.Response)))
		} else {
			errText := strings.TrimSpace(r.Error)
			if errText == "" {
				errText = "Unknown error"
			}
			parts = append(parts, fmt.Sprintf("[%s] ERROR\n%s", prefix, errText))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// FormatRemainingSteps renders the pending queue as a numbered list.
func FormatRemainingSteps(steps []Step) string {
	if len(steps) == 0 {
		return "(none)"
	}
	var lines []string
	for i, s := range steps {
		hintText := ""
		if len(s.ToolHints) > 0 {
			hintText = fmt.Sprintf(" (tool_hints: %s)", strings.Join(s.ToolHints, ", "))
		}
		if s.Goal != "" {
			lines = append(lines, fmt.Sprintf("%d. %s - %s%s", i+1, s.WorkerID, s.Goal, hintText))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s%s", i+1, s.WorkerID, hintText))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatNeeds renders open needs as bullets.
func FormatNeeds(needs []Need) string {
	if len(needs) == 0 {
		return "(none)"
	}
	var lines []string
	for _, n := range needs {
		lines = append(lines, "- "+n.RawText)
	}
	return strings.Join(lines, "\n")
}

// FormatExecutionOutput renders the plan text plus every step result in
// execution order. It is the body of the final answer ahead of the
// synthesized summary.
func FormatExecutionOutput(rawPlan string, results []StepResult) string {
	var parts []string
	if strings.TrimSpace(rawPlan) != "" {
		parts = append(parts, "=== Plan ===\n"+strings.TrimSpace(rawPlan))
	}
	parts = append(parts, "=== Execution Results ===")
	for _, r := range results {
		header := fmt.Sprintf("[Step %d - %s]", r.StepIndex, r.WorkerID)
		if r.OK {
			if r.Goal != "" {
				parts = append(parts, fmt.Sprintf("%s\nGoal: %s\n%s", header, r.Goal, r.Response))
			} else {
				parts = append(parts, fmt.Sprintf("%s\n%s", header, r.Response))
			}
		} else {
			errText := r.Error
			if errText == "" {
				errText = "Unknown error"
			}
			if r.Goal != "" {
				parts = append(parts, fmt.Sprintf("%s ERROR\nGoal: %s\n%s", header, r.Goal, errText))
			} else {
				parts = append(parts, fmt.Sprintf("%s ERROR\n%s", header, errText))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
