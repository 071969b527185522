package oracle

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ string, _ map[string]interface{}) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

func testOracle(llm LLMProvider) *LLMOracle {
	routing := config.LLMRoutingConfig{Fallback: "default"}
	return New(llm, routing, log.New(io.Discard, "", 0))
}

func TestReviewProgressParsed(t *testing.T) {
	llm := &stubLLM{response: "```json\n" + `{
  "additional_needs": ["[WebSearchAnalyst] verify dates", "[WebSearchAnalyst] verify dates", "x"],
  "should_update_plan": true,
  "updated_steps": [{"worker": "WebSearchAnalyst", "goal": "verify"}],
  "reason": "gap found"
}` + "\n```"}
	o := testOracle(llm)
	d, err := o.ReviewProgress(context.Background(), workflow.ReviewContext{UserInput: "q"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(d.AdditionalNeeds) != 1 {
		t.Fatalf("needs should be deduped and short tokens dropped: %v", d.AdditionalNeeds)
	}
	if !d.ShouldUpdatePlan || len(d.UpdatedSteps) != 1 || d.UpdatedSteps[0].Worker != "WebSearchAnalyst" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestReviewProgressUnparseableDeclines(t *testing.T) {
	o := testOracle(&stubLLM{response: "I think the plan is fine as-is."})
	d, err := o.ReviewProgress(context.Background(), workflow.ReviewContext{})
	if err != nil {
		t.Fatalf("parse failures must not be errors: %v", err)
	}
	if d.ShouldUpdatePlan || len(d.AdditionalNeeds) != 0 {
		t.Fatalf("expected zero decision, got %+v", d)
	}
}

func TestReviewProgressUpdateWithoutStepsDeclines(t *testing.T) {
	o := testOracle(&stubLLM{response: `{"should_update_plan": true, "updated_steps": []}`})
	d, err := o.ReviewProgress(context.Background(), workflow.ReviewContext{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if d.ShouldUpdatePlan {
		t.Fatalf("update without steps must decline")
	}
}

func TestHandleFailureReplan(t *testing.T) {
	o := testOracle(&stubLLM{response: `{
  "decision": "REPLAN",
  "root_cause": "endpoint was down",
  "updated_steps": [{"agent": "SnsAnalyst", "task": "take over"}],
  "reason": "retry elsewhere"
}`})
	d, err := o.HandleFailure(context.Background(), workflow.FailureContext{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if d.Decision != workflow.DecisionReplan {
		t.Fatalf("decision = %q", d.Decision)
	}
	// Legacy "agent"/"task" keys still resolve.
	if len(d.UpdatedSteps) != 1 || d.UpdatedSteps[0].Worker != "SnsAnalyst" || d.UpdatedSteps[0].Goal != "take over" {
		t.Fatalf("steps = %+v", d.UpdatedSteps)
	}
}

func TestHandleFailureUnparseableAborts(t *testing.T) {
	o := testOracle(&stubLLM{response: "total nonsense"})
	d, err := o.HandleFailure(context.Background(), workflow.FailureContext{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if d.Decision != workflow.DecisionAbort {
		t.Fatalf("decision = %q", d.Decision)
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	o := testOracle(&stubLLM{err: errors.New("rate limited")})
	if _, err := o.ReviewProgress(context.Background(), workflow.ReviewContext{}); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, err := o.Synthesize(context.Background(), "q", nil); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestSynthesizePromptIncludesOutputs(t *testing.T) {
	llm := &stubLLM{response: "  Final answer.  "}
	o := testOracle(llm)
	got, err := o.Synthesize(context.Background(), "question", []workflow.StepResult{
		{StepIndex: 1, WorkerID: "PaperAnalyst", OK: true, Response: "paper findings"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got != "Final answer." {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(llm.prompts[0], "paper findings") {
		t.Fatalf("prompt missing outputs:\n%s", llm.prompts[0])
	}
}

func TestPlanParsesSteps(t *testing.T) {
	o := testOracle(&stubLLM{response: `{
  "steps": [
    {"worker": "PaperAnalyst", "goal": "collect papers"},
    {"worker": "WebSearchAnalyst", "goal": "verify with articles"}
  ],
  "notes": "two-phase"
}`})
	plan, err := o.Plan(context.Background(), "q", "", nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(plan.Steps) != 2 || plan.Notes != "two-phase" {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.RawText == "" {
		t.Fatalf("raw text should be preserved")
	}
}

func TestNoModelRouted(t *testing.T) {
	o := New(&stubLLM{}, config.LLMRoutingConfig{}, log.New(io.Discard, "", 0))
	if _, err := o.ReviewProgress(context.Background(), workflow.ReviewContext{}); err == nil {
		t.Fatalf("expected routing error")
	}
}
