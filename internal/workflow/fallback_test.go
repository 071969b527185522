package workflow

import (
	"strings"
	"testing"
)

func TestBuildFallbackStepsTargetedNeed(t *testing.T) {
	reg := testRegistry()
	needs := []Need{{RawText: "[WebSearchAnalyst] improve coverage", TargetWorker: "WebSearchAnalyst"}}
	res := BuildFallbackSteps(needs, reg, nil, "MainAgent")
	if len(res.Steps) != 1 {
		t.Fatalf("expected 1 step, got %v", res.Steps)
	}
	step := res.Steps[0]
	if step.WorkerID != "WebSearchAnalyst" {
		t.Fatalf("worker = %q", step.WorkerID)
	}
	if !strings.Contains(step.Goal, "improve coverage") {
		t.Fatalf("goal should reference the request, got %q", step.Goal)
	}
	if !strings.Contains(step.Deliverable, "improve coverage") {
		t.Fatalf("deliverable = %q", step.Deliverable)
	}
	if len(step.ToolHints) == 0 || step.ToolHints[0] != "search_web" {
		t.Fatalf("expected worker tool hints, got %v", step.ToolHints)
	}
	if !res.ConsumedKeys[NeedKey("[WebSearchAnalyst] improve coverage")] {
		t.Fatalf("need key should be consumed: %v", res.ConsumedKeys)
	}
}

func TestBuildFallbackStepsSkipsCoordinatorAndUnknown(t *testing.T) {
	reg := testRegistry()
	needs := []Need{
		{RawText: "[MainAgent] ask user to clarify", TargetWorker: "MainAgent"},
		{RawText: "[GhostWorker] do something", TargetWorker: "GhostWorker"},
		{RawText: "untargeted observation"},
	}
	res := BuildFallbackSteps(needs, reg, nil, "MainAgent")
	if len(res.Steps) != 0 {
		t.Fatalf("expected no steps, got %v", res.Steps)
	}
	if len(res.ConsumedKeys) != 0 {
		t.Fatalf("skipped needs must stay open, got %v", res.ConsumedKeys)
	}
}

func TestBuildFallbackStepsDedupAgainstPending(t *testing.T) {
	reg := testRegistry()
	needs := []Need{{RawText: "[SnsAnalyst] check trends", TargetWorker: "SnsAnalyst"}}
	first := BuildFallbackSteps(needs, reg, nil, "MainAgent")
	if len(first.Steps) != 1 {
		t.Fatalf("expected 1 step, got %v", first.Steps)
	}
	// Same need against a queue already holding the synthesized step:
	// consumed without a duplicate schedule.
	second := BuildFallbackSteps(needs, reg, first.Steps, "MainAgent")
	if len(second.Steps) != 0 {
		t.Fatalf("expected duplicate suppressed, got %v", second.Steps)
	}
	if !second.ConsumedKeys[NeedKey("[SnsAnalyst] check trends")] {
		t.Fatalf("duplicate need should still be consumed")
	}
}

func TestBuildFallbackStepsCap(t *testing.T) {
	reg := testRegistry()
	needs := []Need{
		{RawText: "[SnsAnalyst] need one", TargetWorker: "SnsAnalyst"},
		{RawText: "[SnsAnalyst] need two", TargetWorker: "SnsAnalyst"},
		{RawText: "[WebSearchAnalyst] need three", TargetWorker: "WebSearchAnalyst"},
		{RawText: "[PaperAnalyst] need four", TargetWorker: "PaperAnalyst"},
	}
	res := BuildFallbackSteps(needs, reg, nil, "MainAgent")
	if len(res.Steps) != maxFallbackSteps {
		t.Fatalf("expected cap at %d, got %d", maxFallbackSteps, len(res.Steps))
	}
}
