package worker

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// AsyncInvoker starts an invocation and returns a channel that delivers
// exactly one result. Implementations own the goroutine or event loop
// doing the work.
type AsyncInvoker interface {
	InvokeAsync(ctx context.Context, w workflow.Worker, payload string) <-chan workflow.InvokeResult
}

// Bridge joins an AsyncInvoker back into the engine's synchronous
// Invoke contract. The engine blocks on the result channel rather than
// re-entering the async runtime, so a host running its own event loop
// cannot deadlock on nested invocations.
type Bridge struct {
	async AsyncInvoker
}

func NewBridge(async AsyncInvoker) *Bridge {
	return &Bridge{async: async}
}

func (b *Bridge) Invoke(ctx context.Context, w workflow.Worker, payload string) workflow.InvokeResult {
	ch := b.async.InvokeAsync(ctx, w, payload)
	select {
	case res, ok := <-ch:
		if !ok {
			return workflow.InvokeResult{OK: false, Error: "async invoker closed without a result"}
		}
		return res
	case <-ctx.Done():
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("invocation canceled: %v", ctx.Err())}
	}
}

// GoAsync adapts a synchronous Invoker into an AsyncInvoker by running
// each call on its own goroutine.
type GoAsync struct {
	sync workflow.Invoker
}

func NewGoAsync(sync workflow.Invoker) *GoAsync {
	return &GoAsync{sync: sync}
}

func (g *GoAsync) InvokeAsync(ctx context.Context, w workflow.Worker, payload string) <-chan workflow.InvokeResult {
	ch := make(chan workflow.InvokeResult, 1)
	go func() {
		defer close(ch)
		ch <- g.sync.Invoke(ctx, w, payload)
	}()
	return ch
}
