// Package workflow implements the multi-worker execution engine: plan
// normalization, sequential step execution, need tracking, oracle-driven
// plan revision and failure recovery, and final synthesis.
package workflow

import "context"

// WorkerKind distinguishes in-process workers from remote HTTP workers.
type WorkerKind string

const (
	WorkerLocal  WorkerKind = "local"
	WorkerRemote WorkerKind = "remote"
)

// Tool describes one capability a worker advertises.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Worker is a registered execution target. Remote workers carry an
// Endpoint; local workers are dispatched in-process by ID.
type Worker struct {
	ID                 string     `json:"id"`
	Kind               WorkerKind `json:"kind"`
	Description        string     `json:"description,omitempty"`
	Capabilities       []string   `json:"capabilities,omitempty"`
	Tools              []Tool     `json:"tools,omitempty"`
	Endpoint           string     `json:"endpoint,omitempty"`
	InstructionPreview string     `json:"instruction_preview,omitempty"`
}

// ToolNames returns the names of the worker's tools in declared order.
func (w Worker) ToolNames() []string {
	if len(w.Tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(w.Tools))
	for _, t := range w.Tools {
		names = append(names, t.Name)
	}
	return names
}

// RawStep is a plan step as produced by the oracle, before normalization.
type RawStep struct {
	Worker      string   `json:"worker"`
	Goal        string   `json:"goal"`
	Deliverable string   `json:"deliverable,omitempty"`
	ToolHints   []string `json:"tool_hints,omitempty"`
}

// Step is a normalized, executable plan step. WorkerID always refers to
// a registered worker.
type Step struct {
	WorkerID    string   `json:"worker_id"`
	Goal        string   `json:"goal"`
	Deliverable string   `json:"deliverable,omitempty"`
	ToolHints   []string `json:"tool_hints,omitempty"`
}

// Need is a follow-up request surfaced by a worker's output. TargetWorker
// is set when the text carried a "[Name] request" prefix.
type Need struct {
	RawText      string `json:"raw_text"`
	TargetWorker string `json:"target_worker,omitempty"`
}

// Request returns the need text without its target prefix, when one was
// parsed, otherwise the raw text.
func (n Need) Request() string {
	if n.TargetWorker == "" {
		return n.RawText
	}
	return stripTargetPrefix(n.RawText)
}

// FailureRecovery records how a failed step was handled.
type FailureRecovery struct {
	Decision  string `json:"decision"`
	RootCause string `json:"root_cause,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StepResult is the recorded outcome for one executed step.
type StepResult struct {
	StepIndex   int              `json:"step_index"`
	WorkerID    string           `json:"worker_id"`
	OK          bool             `json:"ok"`
	Response    string           `json:"response,omitempty"`
	Error       string           `json:"error,omitempty"`
	Goal        string           `json:"goal"`
	ToolHints   []string         `json:"tool_hints,omitempty"`
	ParsedNeeds []Need           `json:"parsed_needs,omitempty"`
	Recovery    *FailureRecovery `json:"recovery,omitempty"`
}

// InvokeResult is a worker invocation outcome. Exactly one of Response
// and Error is meaningful, selected by OK.
type InvokeResult struct {
	OK       bool
	Response string
	Error    string
}

// Invoker executes a payload against a worker. Implementations must not
// panic; transport and timeout failures are reported through the result.
type Invoker interface {
	Invoke(ctx context.Context, w Worker, payload string) InvokeResult
}

// ReviewContext is everything the oracle sees when reviewing progress
// after a completed step.
type ReviewContext struct {
	UserInput      string
	LastResult     StepResult
	Completed      []StepResult
	Pending        []Step
	OpenNeeds      []Need
	Workers        []Worker
	StepsExecuted  int
	RemainingSlots int
}

// ReviewDecision is the oracle's answer to a progress review.
type ReviewDecision struct {
	AdditionalNeeds  []string  `json:"additional_needs,omitempty"`
	ShouldUpdatePlan bool      `json:"should_update_plan"`
	UpdatedSteps     []RawStep `json:"updated_steps,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// FailureContext is everything the oracle sees when deciding how to
// recover from a failed step.
type FailureContext struct {
	UserInput     string
	Failed        StepResult
	Completed     []StepResult
	Pending       []Step
	OpenNeeds     []Need
	Workers       []Worker
	StepsExecuted int
}

// Failure recovery decisions.
const (
	DecisionReplan = "replan"
	DecisionAbort  = "abort"
)

// FailureDecision is the oracle's answer to a failure consultation.
type FailureDecision struct {
	Decision     string    `json:"decision"`
	UpdatedSteps []RawStep `json:"updated_steps,omitempty"`
	RootCause    string    `json:"root_cause,omitempty"`
	UserMessage  string    `json:"user_message,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// PlanningOracle makes the engine's judgment calls. Implementations may
// fail; the engine degrades to conservative defaults when they do.
type PlanningOracle interface {
	ReviewProgress(ctx context.Context, rc ReviewContext) (ReviewDecision, error)
	HandleFailure(ctx context.Context, fc FailureContext) (FailureDecision, error)
	Synthesize(ctx context.Context, userInput string, results []StepResult) (string, error)
}
