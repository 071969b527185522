package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

func quietRemote(cfg config.TransportConfig) *RemoteInvoker {
	return NewRemoteInvoker(cfg, log.New(io.Discard, "", 0))
}

func TestLocalInvoke(t *testing.T) {
	l := NewLocalInvoker()
	l.Register("EchoWorker", func(_ context.Context, payload string) (string, error) {
		return "echo: " + payload, nil
	})

	res := l.Invoke(context.Background(), workflow.Worker{ID: "echoworker"}, "hi")
	if !res.OK || res.Response != "echo: hi" {
		t.Fatalf("res = %+v", res)
	}

	res = l.Invoke(context.Background(), workflow.Worker{ID: "Missing"}, "hi")
	if res.OK || !strings.Contains(res.Error, "no local handler") {
		t.Fatalf("res = %+v", res)
	}
}

func TestLocalHandlerError(t *testing.T) {
	l := NewLocalInvoker()
	l.Register("Broken", func(context.Context, string) (string, error) {
		return "", errors.New("tool unavailable")
	})
	res := l.Invoke(context.Background(), workflow.Worker{ID: "Broken"}, "x")
	if res.OK || res.Error != "tool unavailable" {
		t.Fatalf("res = %+v", res)
	}
}

func TestRemoteInvoke(t *testing.T) {
	var cardHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case cardPath:
			atomic.AddInt32(&cardHits, 1)
			rw.Write([]byte(`{"name":"WebSearchAnalyst","description":"web"}`))
		case "/message":
			rw.Write([]byte(`{"result":{"parts":[{"kind":"text","text":"found 3 articles"}]}}`))
		default:
			http.NotFound(rw, req)
		}
	}))
	defer srv.Close()

	inv := quietRemote(config.TransportConfig{})
	w := workflow.Worker{ID: "WebSearchAnalyst", Kind: workflow.WorkerRemote, Endpoint: srv.URL}

	res := inv.Invoke(context.Background(), w, "search X")
	if !res.OK || res.Response != "found 3 articles" {
		t.Fatalf("res = %+v", res)
	}

	// Card is cached across invocations.
	inv.Invoke(context.Background(), w, "search Y")
	if got := atomic.LoadInt32(&cardHits); got != 1 {
		t.Fatalf("card fetched %d times", got)
	}
}

func TestRemoteCardRetryThenFail(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(rw, "not ready", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := quietRemote(config.TransportConfig{CardMaxRetries: 2, RetryBackoff: time.Millisecond})
	res := inv.Invoke(context.Background(), workflow.Worker{ID: "W", Endpoint: srv.URL}, "x")
	if res.OK {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Error, "worker card fetch failed") {
		t.Fatalf("error = %q", res.Error)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 card attempts, got %d", got)
	}
}

func TestRemoteMissingEndpoint(t *testing.T) {
	inv := quietRemote(config.TransportConfig{})
	res := inv.Invoke(context.Background(), workflow.Worker{ID: "W"}, "x")
	if res.OK || !strings.Contains(res.Error, "no endpoint") {
		t.Fatalf("res = %+v", res)
	}
}

func TestRemoteNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path == cardPath {
			rw.Write([]byte(`{"name":"W"}`))
			return
		}
		http.Error(rw, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := quietRemote(config.TransportConfig{})
	res := inv.Invoke(context.Background(), workflow.Worker{ID: "W", Endpoint: srv.URL}, "x")
	if res.OK || !strings.Contains(res.Error, "status 500") {
		t.Fatalf("res = %+v", res)
	}
}

func TestDispatcherRoutesByKind(t *testing.T) {
	local := NewLocalInvoker()
	local.Register("L", func(context.Context, string) (string, error) { return "local", nil })
	d := NewDispatcher(local, quietRemote(config.TransportConfig{}))

	res := d.Invoke(context.Background(), workflow.Worker{ID: "L", Kind: workflow.WorkerLocal}, "x")
	if !res.OK || res.Response != "local" {
		t.Fatalf("res = %+v", res)
	}

	res = d.Invoke(context.Background(), workflow.Worker{ID: "X", Kind: "weird"}, "x")
	if res.OK || !strings.Contains(res.Error, "unknown worker kind") {
		t.Fatalf("res = %+v", res)
	}
}

func TestBridgeJoinsAsyncResult(t *testing.T) {
	local := NewLocalInvoker()
	local.Register("L", func(context.Context, string) (string, error) { return "done", nil })
	bridge := NewBridge(NewGoAsync(local))

	res := bridge.Invoke(context.Background(), workflow.Worker{ID: "L", Kind: workflow.WorkerLocal}, "x")
	if !res.OK || res.Response != "done" {
		t.Fatalf("res = %+v", res)
	}
}

func TestBridgeContextCancel(t *testing.T) {
	slow := NewLocalInvoker()
	slow.Register("S", func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	bridge := NewBridge(NewGoAsync(slow))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := bridge.Invoke(ctx, workflow.Worker{ID: "S", Kind: workflow.WorkerLocal}, "x")
	if res.OK || !strings.Contains(res.Error, "canceled") {
		t.Fatalf("res = %+v", res)
	}
}

func TestExtractResponseTextStatusMessage(t *testing.T) {
	payload := map[string]interface{}{
		"result": map[string]interface{}{
			"status": map[string]interface{}{
				"message": map[string]interface{}{
					"parts": []interface{}{
						map[string]interface{}{"kind": "text", "text": "from status"},
					},
				},
			},
		},
	}
	if got := ExtractResponseText(payload); got != "from status" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractResponseTextErrorMessage(t *testing.T) {
	payload := map[string]interface{}{
		"error": map[string]interface{}{"code": float64(500), "message": "worker crashed"},
	}
	if got := ExtractResponseText(payload); got != "worker crashed" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractResponseTextFragmentFallback(t *testing.T) {
	payload := map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"text": "fragment one"},
			map[string]interface{}{"text": "fragment one"},
		},
	}
	if got := ExtractResponseText(payload); got != "fragment one" {
		t.Fatalf("fragments should dedup, got %q", got)
	}
}
