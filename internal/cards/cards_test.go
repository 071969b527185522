package cards

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

func writeCard(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "main.json", `{
  "name": "MainAgent",
  "type": "local",
  "description": "Coordinator",
  "tools": ["route_request", {"name": "clarify", "description": "ask the user"}]
}`)
	writeCard(t, dir, "remotes.json", `[
  {"name": "WebSearchAnalyst", "type": "remote", "base_url": "http://web:9001", "capabilities": ["web-search"]},
  {"name": "SnsAnalyst", "type": "remote", "endpoint": "http://sns:9002"}
]`)
	writeCard(t, dir, "notes.txt", "ignored")

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 workers, got %d", reg.Len())
	}

	w, ok := reg.Lookup("mainagent")
	if !ok || w.Kind != workflow.WorkerLocal {
		t.Fatalf("main = %+v ok=%v", w, ok)
	}
	if len(w.Tools) != 2 || w.Tools[0].Name != "route_request" || w.Tools[1].Description != "ask the user" {
		t.Fatalf("tools = %+v", w.Tools)
	}

	web, _ := reg.Lookup("WebSearchAnalyst")
	if web.Endpoint != "http://web:9001" {
		t.Fatalf("base_url fallback failed: %+v", web)
	}
}

func TestLoadDirLaterFileOverrides(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "a.json", `{"name": "MainAgent", "description": "first"}`)
	writeCard(t, dir, "b.json", `{"name": "mainagent", "description": "second"}`)

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	w, _ := reg.Lookup("MainAgent")
	if w.Description != "second" {
		t.Fatalf("override failed: %+v", w)
	}
}

func TestLoadDirRejectsBadCards(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "bad.json", `{"name": "Ghost", "type": "remote"}`)
	if _, err := LoadDir(dir); err == nil {
		t.Fatalf("expected error for remote card without endpoint")
	}

	dir2 := t.TempDir()
	writeCard(t, dir2, "empty.json", `{"description": "no name"}`)
	if _, err := LoadDir(dir2); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
