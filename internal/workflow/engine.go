package workflow

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Termination reasons for one workflow run.
const (
	TerminationDrained = "queue_drained"
	TerminationAborted = "aborted"
	TerminationBudget  = "step_budget"
)

const abortFallbackMessage = "The workflow hit an error and stopped before completing. Please try again shortly."

// Metrics receives engine counters. Implementations live outside this
// package; a nil Metrics disables instrumentation.
type Metrics interface {
	StepExecuted(workerID string, ok bool)
	OracleCall(kind string, failed bool)
	RunFinished(termination string, duration time.Duration)
}

// EngineConfig carries the engine collaborators that have sensible
// defaults.
type EngineConfig struct {
	// Coordinator is the worker ID whose targeted needs are never
	// converted into fallback steps. Defaults to "MainAgent".
	Coordinator string
	// Domains drives coverage augmentation. Defaults to DefaultDomainMap.
	Domains DomainMap
	Logger  *log.Logger
	Metrics Metrics
}

// Engine executes one workflow run: a strictly sequential loop of step
// execution, need extraction, oracle review, and plan revision, bounded
// so that injected steps cannot prevent termination.
type Engine struct {
	registry    *Registry
	oracle      PlanningOracle
	executor    *Executor
	coordinator string
	domains     DomainMap
	logger      *log.Logger
	metrics     Metrics
}

func NewEngine(reg *Registry, oracle PlanningOracle, invoker Invoker, cfg EngineConfig) *Engine {
	coordinator := cfg.Coordinator
	if coordinator == "" {
		coordinator = "MainAgent"
	}
	domains := cfg.Domains
	if domains == nil {
		domains = DefaultDomainMap()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[workflow] ", log.LstdFlags)
	}
	return &Engine{
		registry:    reg,
		oracle:      oracle,
		executor:    NewExecutor(invoker),
		coordinator: coordinator,
		domains:     domains,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Request is one workflow run's input.
type Request struct {
	WorkflowID string
	SessionID  string
	UserInput  string
	History    string
	RawPlan    string
	Steps      []RawStep
}

// RunResult is the outcome of one run. Results are in execution order.
type RunResult struct {
	WorkflowID    string
	Answer        string
	Results       []StepResult
	Termination   string
	StepsExecuted int
	CoverageNote  string
}

// Execute runs the workflow to completion. It never panics and never
// returns early on worker or oracle failures; the worst outcome is a
// terminated run whose answer is built from partial results.
func (e *Engine) Execute(ctx context.Context, req Request) RunResult {
	started := time.Now()

	workflowID := req.WorkflowID
	if workflowID == "" {
		session := req.SessionID
		if session == "" {
			session = "default"
		}
		workflowID = session + "-" + uuid.NewString()[:8]
	}

	steps := NormalizePlan(req.Steps, e.registry)
	steps, coverageNote := AugmentCoverage(steps, e.registry, e.domains, req.UserInput, req.RawPlan)
	if coverageNote != "" {
		e.logger.Printf("workflow=%s %s", workflowID, coverageNote)
	}

	planText := strings.TrimSpace(req.RawPlan)
	if coverageNote != "" {
		planText = strings.TrimSpace(planText + "\n" + coverageNote)
	}

	if len(steps) == 0 {
		answer := planText
		if answer == "" {
			answer = "No plan was generated."
		}
		e.logger.Printf("workflow=%s no executable steps after normalization", workflowID)
		e.observeRun(TerminationDrained, started)
		return RunResult{
			WorkflowID:   workflowID,
			Answer:       answer,
			Termination:  TerminationDrained,
			CoverageNote: coverageNote,
		}
	}

	maxSteps := len(steps) + 6
	if maxSteps < 8 {
		maxSteps = 8
	}

	var completed []StepResult
	pending := append([]Step(nil), steps...)
	tracker := NewNeedTracker()
	workers := e.registry.Workers()
	stepCounter := 0
	aborted := false

	for len(pending) > 0 && stepCounter < maxSteps {
		stepCounter++
		step := pending[0]
		pending = pending[1:]
		w, _ := e.registry.Lookup(step.WorkerID)
		totalHint := stepCounter + len(pending)

		payload := BuildStepPayload(workflowID, req.UserInput, req.History, step, w,
			stepCounter, totalHint, completed, tracker.Needs(), pending, workers)

		e.logger.Printf("workflow=%s step=%d/%d worker=%s started goal=%q open_needs=%d",
			workflowID, stepCounter, totalHint, w.ID, step.Goal, tracker.Len())

		result := e.executor.Execute(ctx, w, step, stepCounter, payload)
		needSource := result.Response
		if !result.OK {
			needSource = result.Error
		}
		result.ParsedNeeds = ExtractNeeds(needSource)
		completed = append(completed, result)
		cur := &completed[len(completed)-1]
		tracker.Add(cur.ParsedNeeds...)

		if e.metrics != nil {
			e.metrics.StepExecuted(w.ID, cur.OK)
		}
		e.logger.Printf("workflow=%s step=%d worker=%s completed ok=%t parsed_needs=%d",
			workflowID, stepCounter, w.ID, cur.OK, len(cur.ParsedNeeds))

		if !cur.OK {
			var replacement []Step
			replacement, aborted = e.recoverFromFailure(ctx, req, cur, completed, pending, tracker.Needs(), workers)
			if aborted {
				break
			}
			pending = replacement
			continue
		}

		pending = e.reviewAndRevise(ctx, req, cur, completed, pending, tracker, workflowID)
	}

	termination := TerminationDrained
	switch {
	case aborted:
		termination = TerminationAborted
	case stepCounter >= maxSteps && len(pending) > 0:
		termination = TerminationBudget
		e.logger.Printf("workflow=%s stopped on step budget max_steps=%d discarded=%d",
			workflowID, maxSteps, len(pending))
	}

	answer := e.synthesize(ctx, req.UserInput, planText, completed)
	e.observeRun(termination, started)
	return RunResult{
		WorkflowID:    workflowID,
		Answer:        answer,
		Results:       completed,
		Termination:   termination,
		StepsExecuted: stepCounter,
		CoverageNote:  coverageNote,
	}
}

// recoverFromFailure consults the oracle about a failed step. It
// annotates the failed result in place and returns either a replacement
// pending queue (replan) or aborted=true.
func (e *Engine) recoverFromFailure(ctx context.Context, req Request, failed *StepResult, completed []StepResult, pending []Step, openNeeds []Need, workers []Worker) ([]Step, bool) {
	fc := FailureContext{
		UserInput:     req.UserInput,
		Failed:        *failed,
		Completed:     completed,
		Pending:       pending,
		OpenNeeds:     openNeeds,
		Workers:       workers,
		StepsExecuted: failed.StepIndex,
	}
	decision, err := e.oracle.HandleFailure(ctx, fc)
	if e.metrics != nil {
		e.metrics.OracleCall("failure", err != nil)
	}
	if err != nil {
		e.logger.Printf("failure review failed step=%d worker=%s err=%v", failed.StepIndex, failed.WorkerID, err)
		decision = FailureDecision{
			Decision:    DecisionAbort,
			RootCause:   "Failure analysis could not be completed.",
			UserMessage: abortFallbackMessage,
			Reason:      "failure_review_failed",
		}
	}

	rootCause := strings.TrimSpace(decision.RootCause)
	if rootCause != "" {
		failed.Error = strings.TrimSpace(failed.Error) + "\n\nFailure Analysis: " + rootCause
	}

	replacement := NormalizePlan(decision.UpdatedSteps, e.registry)
	shouldReplan := strings.EqualFold(decision.Decision, DecisionReplan) && len(replacement) > 0

	recorded := DecisionAbort
	if shouldReplan {
		recorded = DecisionReplan
	}
	failed.Recovery = &FailureRecovery{
		Decision:  recorded,
		RootCause: rootCause,
		Reason:    strings.TrimSpace(decision.Reason),
	}

	if shouldReplan {
		e.logger.Printf("plan recovered from error failed_step=%d worker=%s new_pending=%d",
			failed.StepIndex, failed.WorkerID, len(replacement))
		return replacement, false
	}

	userMessage := strings.TrimSpace(decision.UserMessage)
	if userMessage == "" {
		userMessage = abortFallbackMessage
	}
	failed.Error = strings.TrimSpace(failed.Error) + "\n\nCoordinator Message: " + userMessage
	e.logger.Printf("workflow stopped on error failed_step=%d worker=%s reason=%q",
		failed.StepIndex, failed.WorkerID, decision.Reason)
	return nil, true
}

// reviewAndRevise asks the oracle whether to revise the remaining plan
// after a successful step. When the oracle declines or fails, the
// fallback builder converts open targeted needs into steps prepended
// ahead of the existing queue.
func (e *Engine) reviewAndRevise(ctx context.Context, req Request, latest *StepResult, completed []StepResult, pending []Step, tracker *NeedTracker, workflowID string) []Step {
	rc := ReviewContext{
		UserInput:      req.UserInput,
		LastResult:     *latest,
		Completed:      completed,
		Pending:        pending,
		OpenNeeds:      tracker.Needs(),
		Workers:        e.registry.Workers(),
		StepsExecuted:  latest.StepIndex,
		RemainingSlots: len(pending),
	}
	decision, err := e.oracle.ReviewProgress(ctx, rc)
	if e.metrics != nil {
		e.metrics.OracleCall("review", err != nil)
	}
	if err != nil {
		e.logger.Printf("workflow=%s plan review failed step=%d err=%v", workflowID, latest.StepIndex, err)
		decision = ReviewDecision{}
	}

	if len(decision.AdditionalNeeds) > 0 {
		tracker.AddTexts(decision.AdditionalNeeds...)
		e.logger.Printf("workflow=%s open needs updated count=%d", workflowID, tracker.Len())
	}

	if decision.ShouldUpdatePlan {
		if replacement := NormalizePlan(decision.UpdatedSteps, e.registry); len(replacement) > 0 {
			e.logger.Printf("workflow=%s plan updated reason=%q new_pending=%d",
				workflowID, decision.Reason, len(replacement))
			return replacement
		}
	}

	fb := BuildFallbackSteps(tracker.Needs(), e.registry, pending, e.coordinator)
	if len(fb.Steps) > 0 {
		tracker.Remove(fb.ConsumedKeys)
		e.logger.Printf("workflow=%s plan augmented from needs added=%d remaining_needs=%d",
			workflowID, len(fb.Steps), tracker.Len())
		return append(fb.Steps, pending...)
	}
	if len(fb.ConsumedKeys) > 0 {
		tracker.Remove(fb.ConsumedKeys)
	}
	return pending
}

func (e *Engine) synthesize(ctx context.Context, userInput, planText string, results []StepResult) string {
	formatted := FormatExecutionOutput(planText, results)
	if len(results) == 0 {
		return formatted
	}

	summary, err := e.oracle.Synthesize(ctx, userInput, results)
	if e.metrics != nil {
		e.metrics.OracleCall("synthesize", err != nil)
	}
	if err != nil {
		e.logger.Printf("synthesis failed err=%v", err)
		summary = ""
	}
	summary = ensureWorkerCoverage(strings.TrimSpace(summary), results)
	if summary != "" {
		formatted = formatted + "\n\n=== Final Summary ===\n" + summary
	}
	return formatted
}

// ensureWorkerCoverage appends an excerpt per worker the summary omits,
// so multi-worker findings never silently disappear from the answer.
func ensureWorkerCoverage(summary string, results []StepResult) string {
	text := strings.TrimSpace(summary)
	if text == "" {
		return text
	}

	var ordered []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.WorkerID == "" || seen[r.WorkerID] {
			continue
		}
		seen[r.WorkerID] = true
		ordered = append(ordered, r.WorkerID)
	}
	if len(ordered) <= 1 {
		return text
	}

	lowered := strings.ToLower(text)
	missing := make(map[string]bool)
	for _, name := range ordered {
		if !strings.Contains(lowered, strings.ToLower(name)) {
			missing[name] = true
		}
	}
	if len(missing) == 0 {
		return text
	}

	var notes []string
	noted := make(map[string]bool)
	for _, r := range results {
		if !missing[r.WorkerID] || noted[r.WorkerID] {
			continue
		}
		noted[r.WorkerID] = true
		body := r.Response
		if !r.OK {
			body = r.Error
			if body == "" {
				body = "Unknown error"
			}
		}
		excerpt := strings.Join(strings.Fields(body), " ")
		if len(excerpt) > 280 {
			excerpt = excerpt[:280]
		}
		if excerpt == "" {
			excerpt = "(no details)"
		}
		notes = append(notes, "- "+r.WorkerID+": "+excerpt)
	}
	if len(notes) == 0 {
		return text
	}
	return text + "\n\nWorker Coverage:\n" + strings.Join(notes, "\n")
}

func (e *Engine) observeRun(termination string, started time.Time) {
	if e.metrics != nil {
		e.metrics.RunFinished(termination, time.Since(started))
	}
}
