package worker

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Dispatcher routes invocations by worker kind.
type Dispatcher struct {
	local  *LocalInvoker
	remote *RemoteInvoker
}

func NewDispatcher(local *LocalInvoker, remote *RemoteInvoker) *Dispatcher {
	return &Dispatcher{local: local, remote: remote}
}

func (d *Dispatcher) Invoke(ctx context.Context, w workflow.Worker, payload string) workflow.InvokeResult {
	switch w.Kind {
	case workflow.WorkerLocal:
		return d.local.Invoke(ctx, w, payload)
	case workflow.WorkerRemote:
		return d.remote.Invoke(ctx, w, payload)
	default:
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("unknown worker kind %q for worker %q", w.Kind, w.ID)}
	}
}
