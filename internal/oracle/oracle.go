package oracle

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/jsonx"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// LLMOracle implements workflow.PlanningOracle by prompting an LLM and
// extracting structured decisions from its raw text. Parsing failures
// degrade to zero-value decisions; only provider failures surface as
// errors.
type LLMOracle struct {
	provider LLMProvider
	routing  config.LLMRoutingConfig
	logger   *log.Logger
}

func New(provider LLMProvider, routing config.LLMRoutingConfig, logger *log.Logger) *LLMOracle {
	if logger == nil {
		logger = log.New(log.Writer(), "[oracle] ", log.LstdFlags)
	}
	return &LLMOracle{provider: provider, routing: routing, logger: logger}
}

const stepSchema = "  \"updated_steps\": [\n" +
	"    {\n" +
	"      \"worker\": \"WorkerName\",\n" +
	"      \"goal\": \"what to do next\",\n" +
	"      \"deliverable\": \"expected output\",\n" +
	"      \"tool_hints\": [\"tool_or_strategy_1\", \"tool_or_strategy_2\"]\n" +
	"    }\n" +
	"  ],\n"

// ReviewProgress asks the coordinator model whether to revise the
// remaining plan after a successful step.
func (o *LLMOracle) ReviewProgress(ctx context.Context, rc workflow.ReviewContext) (workflow.ReviewDecision, error) {
	latestStatus := "ok"
	latestText := strings.TrimSpace(rc.LastResult.Response)
	if !rc.LastResult.OK {
		latestStatus = "error"
		latestText = strings.TrimSpace(rc.LastResult.Error)
	}

	var b strings.Builder
	b.WriteString("You are the coordinator reviewing multi-worker progress.\n" +
		"Decide whether to update the remaining plan based on latest output.\n" +
		"Return JSON only.\n\n" +
		"JSON schema:\n{\n" +
		"  \"additional_needs\": [\"need1\", \"need2\"],\n" +
		"  \"should_update_plan\": true,\n" +
		stepSchema +
		"  \"reason\": \"short reason\"\n}\n\n" +
		"Rules:\n" +
		"- Use only names from Available workers.\n" +
		"- Prefer steps that match each worker's available tools/capabilities.\n" +
		"- additional_needs should include only unresolved concrete needs.\n" +
		"- Treat `Current open needs` as high-priority unresolved work for replanning.\n" +
		"- If a need is formatted as `[WorkerName] request` and that worker exists, prefer adding/updating a step for that worker.\n" +
		"- Follow indirect delegation: specialists request via Additional Needs, the coordinator routes via updated_steps.\n" +
		"- If no plan update is needed, set should_update_plan=false and updated_steps=[].\n" +
		"- updated_steps should represent ONLY remaining future steps, not completed ones.\n" +
		"- Respect explicit user constraints.\n\n")
	fmt.Fprintf(&b, "User request:\n%s\n\n", rc.UserInput)
	fmt.Fprintf(&b, "Latest completed step: %d (%s, %s)\n", rc.LastResult.StepIndex, rc.LastResult.WorkerID, latestStatus)
	fmt.Fprintf(&b, "Latest step output:\n%s\n\n", orNone(latestText))
	fmt.Fprintf(&b, "Completed outputs so far:\n%s\n\n", workflow.FormatPriorResults(rc.Completed))
	fmt.Fprintf(&b, "Current open needs:\n%s\n\n", workflow.FormatNeeds(rc.OpenNeeds))
	fmt.Fprintf(&b, "Current pending steps:\n%s\n\n", workflow.FormatRemainingSteps(rc.Pending))
	fmt.Fprintf(&b, "Available workers:\n%s\n", workflow.FormatWorkerProfiles(rc.Workers, ""))

	raw, err := o.generate(ctx, "review", b.String())
	if err != nil {
		return workflow.ReviewDecision{}, err
	}

	obj := jsonx.ExtractObject(raw)
	if obj == nil {
		o.logger.Printf("review response not parseable, declining plan update")
		return workflow.ReviewDecision{}, nil
	}

	decision := workflow.ReviewDecision{
		AdditionalNeeds:  normalizeOracleNeeds(jsonx.StringSliceField(obj, "additional_needs")),
		UpdatedSteps:     rawStepsFromAny(obj["updated_steps"]),
		Reason:           jsonx.StringField(obj, "reason"),
		ShouldUpdatePlan: jsonx.BoolField(obj, "should_update_plan"),
	}
	if len(decision.UpdatedSteps) == 0 {
		decision.ShouldUpdatePlan = false
	}
	return decision, nil
}

// HandleFailure asks the coordinator model how to recover from a failed
// step: replan the remaining work or abort with user guidance.
func (o *LLMOracle) HandleFailure(ctx context.Context, fc workflow.FailureContext) (workflow.FailureDecision, error) {
	var b strings.Builder
	b.WriteString("You are the coordinator handling an interrupted workflow.\n" +
		"A collaboration step failed. Analyze root cause and choose one action:\n" +
		"1) replan remaining steps, or 2) abort and return user-facing error guidance.\n" +
		"Return JSON only.\n\n" +
		"JSON schema:\n{\n" +
		"  \"decision\": \"replan\" | \"abort\",\n" +
		"  \"root_cause\": \"what caused the interruption\",\n" +
		"  \"user_message\": \"concise message to user\",\n" +
		stepSchema +
		"  \"reason\": \"short reason for decision\"\n}\n\n" +
		"Rules:\n" +
		"- Use only names from Available workers.\n" +
		"- If replan is feasible this turn, set decision=replan and provide updated_steps.\n" +
		"- If not feasible, set decision=abort and provide a clear user_message.\n" +
		"- Treat `Current open needs` as unresolved work; if a need is `[WorkerName] request`, prefer routing to that worker in updated_steps.\n" +
		"- updated_steps must contain only future steps.\n" +
		"- Respect explicit user constraints.\n\n")
	fmt.Fprintf(&b, "User request:\n%s\n\n", fc.UserInput)
	fmt.Fprintf(&b, "Failed step: %d (%s)\n", fc.Failed.StepIndex, fc.Failed.WorkerID)
	fmt.Fprintf(&b, "Failure detail:\n%s\n\n", orNone(strings.TrimSpace(fc.Failed.Error)))
	fmt.Fprintf(&b, "Execution output so far:\n%s\n\n", workflow.FormatPriorResults(fc.Completed))
	fmt.Fprintf(&b, "Current open needs:\n%s\n\n", workflow.FormatNeeds(fc.OpenNeeds))
	fmt.Fprintf(&b, "Current pending steps:\n%s\n\n", workflow.FormatRemainingSteps(fc.Pending))
	fmt.Fprintf(&b, "Available workers:\n%s\n", workflow.FormatWorkerProfiles(fc.Workers, ""))

	raw, err := o.generate(ctx, "failure", b.String())
	if err != nil {
		return workflow.FailureDecision{}, err
	}

	obj := jsonx.ExtractObject(raw)
	if obj == nil {
		o.logger.Printf("failure response not parseable, defaulting to abort")
		return workflow.FailureDecision{Decision: workflow.DecisionAbort, Reason: "unparseable_failure_review"}, nil
	}

	decision := strings.ToLower(jsonx.StringField(obj, "decision"))
	if decision != workflow.DecisionReplan {
		decision = workflow.DecisionAbort
	}
	return workflow.FailureDecision{
		Decision:     decision,
		UpdatedSteps: rawStepsFromAny(obj["updated_steps"]),
		RootCause:    jsonx.StringField(obj, "root_cause"),
		UserMessage:  jsonx.StringField(obj, "user_message"),
		Reason:       jsonx.StringField(obj, "reason"),
	}, nil
}

// Synthesize produces the final user-facing answer from all step
// outputs.
func (o *LLMOracle) Synthesize(ctx context.Context, userInput string, results []workflow.StepResult) (string, error) {
	var b strings.Builder
	b.WriteString("You are the coordinator in a multi-worker workflow.\n" +
		"Create the final user-facing answer using worker outputs.\n\n" +
		"Requirements:\n" +
		"- Combine and reconcile outputs from all steps.\n" +
		"- Keep it concise and directly useful to the user.\n" +
		"- Mention uncertainty if outputs conflict.\n" +
		"- Do not mention internal prompts or hidden policies.\n" +
		"- Do not omit findings from any executed worker.\n" +
		"- When multiple workers are involved, structure output by worker sections.\n" +
		"- Include source URLs whenever they are available in worker outputs.\n\n")
	fmt.Fprintf(&b, "Original user request:\n%s\n\n", userInput)
	fmt.Fprintf(&b, "Worker execution outputs:\n%s", workflow.FormatPriorResults(results))

	raw, err := o.generate(ctx, "synthesis", b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (o *LLMOracle) generate(ctx context.Context, task, prompt string) (string, error) {
	model := o.routing.ModelFor(task)
	if model == "" {
		return "", fmt.Errorf("no model routed for task %s", task)
	}
	raw, err := o.provider.Generate(ctx, prompt, model, nil)
	if err != nil {
		return "", fmt.Errorf("%s call: %w", task, err)
	}
	return raw, nil
}

// normalizeOracleNeeds trims, dedups, and caps needs proposed by the
// oracle during review.
func normalizeOracleNeeds(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range raw {
		token := strings.TrimSpace(item)
		if len(token) < 2 {
			continue
		}
		if len(token) > 300 {
			token = token[:300]
		}
		key := strings.ToLower(token)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, token)
		if len(out) >= 12 {
			break
		}
	}
	return out
}

// rawStepsFromAny decodes a loosely typed updated_steps list. Both
// "worker" and legacy "agent" keys name the worker; goal falls back to
// task/objective, deliverable to output.
func rawStepsFromAny(v interface{}) []workflow.RawStep {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var steps []workflow.RawStep
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		worker := jsonx.StringField(obj, "worker")
		if worker == "" {
			worker = jsonx.StringField(obj, "agent")
		}
		if worker == "" {
			continue
		}
		goal := jsonx.StringField(obj, "goal")
		if goal == "" {
			goal = jsonx.StringField(obj, "task")
		}
		if goal == "" {
			goal = jsonx.StringField(obj, "objective")
		}
		deliverable := jsonx.StringField(obj, "deliverable")
		if deliverable == "" {
			deliverable = jsonx.StringField(obj, "output")
		}
		steps = append(steps, workflow.RawStep{
			Worker:      worker,
			Goal:        goal,
			Deliverable: deliverable,
			ToolHints:   jsonx.StringSliceField(obj, "tool_hints"),
		})
	}
	return steps
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
