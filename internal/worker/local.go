package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Handler is an in-process worker implementation.
type Handler func(ctx context.Context, payload string) (string, error)

// LocalInvoker dispatches to registered in-process handlers keyed by
// worker ID, case-insensitive.
type LocalInvoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewLocalInvoker() *LocalInvoker {
	return &LocalInvoker{handlers: make(map[string]Handler)}
}

// Register binds a handler to a worker ID, replacing any previous one.
func (l *LocalInvoker) Register(id string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[strings.ToLower(strings.TrimSpace(id))] = h
}

func (l *LocalInvoker) Invoke(ctx context.Context, w workflow.Worker, payload string) workflow.InvokeResult {
	l.mu.RLock()
	h, ok := l.handlers[strings.ToLower(strings.TrimSpace(w.ID))]
	l.mu.RUnlock()
	if !ok {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("no local handler registered for worker %q", w.ID)}
	}

	resp, err := h(ctx, payload)
	if err != nil {
		return workflow.InvokeResult{OK: false, Error: err.Error()}
	}
	return workflow.InvokeResult{OK: true, Response: resp}
}
