// Package worker dispatches workflow steps to local handlers or remote
// HTTP workers.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

const cardPath = "/.well-known/worker-card.json"

// RemoteInvoker talks to remote workers over HTTP: a card fetch with
// bounded retries to confirm the endpoint is alive, then a message POST.
type RemoteInvoker struct {
	cfg    config.TransportConfig
	client *http.Client
	logger *log.Logger

	mu    sync.Mutex
	cards map[string]map[string]interface{}
}

func NewRemoteInvoker(cfg config.TransportConfig, logger *log.Logger) *RemoteInvoker {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[worker.remote] ", log.LstdFlags)
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &RemoteInvoker{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 4,
			},
		},
		logger: logger,
		cards:  make(map[string]map[string]interface{}),
	}
}

// Invoke sends the payload to the worker's endpoint. All transport
// failures are converted into ok=false results with actionable error
// text; nothing escapes this boundary.
func (r *RemoteInvoker) Invoke(ctx context.Context, w workflow.Worker, payload string) workflow.InvokeResult {
	endpoint := strings.TrimRight(strings.TrimSpace(w.Endpoint), "/")
	if endpoint == "" {
		return workflow.InvokeResult{OK: false, Error: "remote worker has no endpoint configured."}
	}

	if _, err := r.fetchCard(ctx, endpoint); err != nil {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf(
			"worker card fetch failed: %v. Card endpoint: %s%s. The worker server may not be ready or has stopped.",
			err, endpoint, cardPath)}
	}

	body, err := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{
			"role":      "user",
			"parts":     []map[string]string{{"kind": "text", "text": payload}},
			"messageId": uuid.NewString(),
		},
	})
	if err != nil {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("marshal message: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/message", bytes.NewReader(body))
	if err != nil {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return workflow.InvokeResult{OK: false, Error: fmt.Sprintf(
				"remote worker request timed out: %v. Worker endpoint: %s. Increase transport.read_timeout for longer tasks.",
				err, endpoint)}
		}
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf(
			"remote worker request failed: %v. Worker endpoint: %s. Check worker health and network access.",
			err, endpoint)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf(
			"remote worker returned status %d. Worker endpoint: %s.", resp.StatusCode, endpoint)}
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return workflow.InvokeResult{OK: false, Error: fmt.Sprintf("decode worker response: %v", err)}
	}

	text := ExtractResponseText(decoded)
	if text == "" {
		raw, _ := json.Marshal(decoded)
		text = string(raw)
	}
	return workflow.InvokeResult{OK: true, Response: text}
}

// fetchCard retrieves and caches the worker card, retrying with a
// linearly growing delay.
func (r *RemoteInvoker) fetchCard(ctx context.Context, endpoint string) (map[string]interface{}, error) {
	r.mu.Lock()
	if card, ok := r.cards[endpoint]; ok {
		r.mu.Unlock()
		return card, nil
	}
	r.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.CardMaxRetries; attempt++ {
		card, err := r.fetchCardOnce(ctx, endpoint)
		if err == nil {
			r.mu.Lock()
			r.cards[endpoint] = card
			r.mu.Unlock()
			return card, nil
		}
		lastErr = err
		r.logger.Printf("card fetch attempt %d/%d failed endpoint=%s err=%v",
			attempt, r.cfg.CardMaxRetries, endpoint, err)
		if attempt >= r.cfg.CardMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (r *RemoteInvoker) fetchCardOnce(ctx context.Context, endpoint string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+cardPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card status %d", resp.StatusCode)
	}
	var card map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	return card, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
