package workflow

import (
	"context"
	"fmt"
)

// Executor runs one step against a worker through the configured
// Invoker. Transport failures never escape it; every outcome becomes a
// StepResult with ok set.
type Executor struct {
	invoker Invoker
}

func NewExecutor(invoker Invoker) *Executor {
	return &Executor{invoker: invoker}
}

// Execute invokes the worker and records the outcome. A panicking
// invoker is recovered into an error result.
func (e *Executor) Execute(ctx context.Context, w Worker, step Step, stepIndex int, payload string) (result StepResult) {
	result = StepResult{
		StepIndex: stepIndex,
		WorkerID:  w.ID,
		Goal:      step.Goal,
		ToolHints: step.ToolHints,
	}
	defer func() {
		if r := recover(); r != nil {
			result.OK = false
			result.Response = ""
			result.Error = fmt.Sprintf("worker invocation panicked: %v", r)
		}
	}()

	res := e.invoker.Invoke(ctx, w, payload)
	result.OK = res.OK
	if res.OK {
		result.Response = res.Response
	} else {
		result.Error = res.Error
		if result.Error == "" {
			result.Error = "Unknown error"
		}
	}
	return result
}
