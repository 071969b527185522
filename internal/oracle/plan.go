package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/crewline/internal/jsonx"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// ProposedPlan is the oracle's initial plan for one user request.
type ProposedPlan struct {
	RawText string
	Steps   []workflow.RawStep
	Notes   string
}

// Plan asks the planning model for an initial collaboration plan. The
// raw response text is kept for downstream prompts even when structured
// extraction fails.
func (o *LLMOracle) Plan(ctx context.Context, userInput, history string, workers []workflow.Worker) (ProposedPlan, error) {
	var b strings.Builder
	b.WriteString("You are creating a worker-to-worker collaboration workflow.\n" +
		"Return JSON only. No markdown, no prose outside JSON.\n\n" +
		"JSON schema:\n{\n" +
		"  \"steps\": [\n" +
		"    {\n" +
		"      \"worker\": \"WorkerName\",\n" +
		"      \"goal\": \"what this worker should do in this step\",\n" +
		"      \"deliverable\": \"output format for handoff\",\n" +
		"      \"tool_hints\": [\"tool_or_strategy_1\", \"tool_or_strategy_2\"]\n" +
		"    }\n" +
		"  ],\n" +
		"  \"notes\": \"short note\"\n}\n\n" +
		"Rules:\n" +
		"- Use only names from Available workers.\n" +
		"- Keep steps practical and complete (1 to 6).\n" +
		"- Steps should pass useful outputs to the next step.\n" +
		"- Respect explicit user constraints.\n" +
		"- Prioritize satisfying user intent and factual completeness over runtime speed.\n" +
		"- Prefer specialist-owned steps rather than assigning specialist tasks to non-specialists.\n" +
		"- Prefer multi-worker collaboration when it improves coverage or verification.\n" +
		"- Choose workers and tool usage strategy based on available metadata, not hardcoded roles.\n\n")
	fmt.Fprintf(&b, "Recent conversation context:\n%s\n\n", orNone(history))
	fmt.Fprintf(&b, "User request:\n%s\n\n", userInput)
	fmt.Fprintf(&b, "Available workers:\n%s\n", workflow.FormatWorkerProfiles(workers, ""))

	raw, err := o.generate(ctx, "planning", b.String())
	if err != nil {
		return ProposedPlan{}, err
	}

	plan := ProposedPlan{RawText: strings.TrimSpace(raw)}
	if obj := jsonx.ExtractObject(raw); obj != nil {
		plan.Steps = rawStepsFromAny(obj["steps"])
		plan.Notes = jsonx.StringField(obj, "notes")
		if plan.Notes == "" {
			plan.Notes = jsonx.StringField(obj, "reason")
		}
	} else {
		o.logger.Printf("plan response not parseable, keeping raw text only")
	}
	return plan, nil
}
