package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T, maxTurns int) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, maxTurns, time.Hour)
}

func TestAppendAndHistory(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()

	if err := s.Append(ctx, "s1", "user", "find papers on X"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "s1", "assistant", "found 3 papers"); err != nil {
		t.Fatalf("append: %v", err)
	}

	text, err := s.HistoryText(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := "user: find papers on X\nassistant: found 3 papers"
	if text != want {
		t.Fatalf("history = %q", text)
	}
}

func TestAppendTrimsToCap(t *testing.T) {
	s := testStore(t, 3)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := s.Append(ctx, "s1", "user", fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	turns, err := s.Turns(ctx, "s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(turns))
	}
	if !strings.Contains(turns[0].Content, "turn 3") {
		t.Fatalf("oldest kept turn = %+v", turns[0])
	}
}

func TestSessionsIsolated(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()
	s.Append(ctx, "a", "user", "for a")
	s.Append(ctx, "b", "user", "for b")

	text, _ := s.HistoryText(ctx, "a")
	if strings.Contains(text, "for b") {
		t.Fatalf("sessions leaked: %q", text)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()
	s.Append(ctx, "s1", "user", "hello")
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	turns, err := s.Turns(ctx, "s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty after clear, got %v", turns)
	}
}
