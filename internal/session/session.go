// Package session keeps bounded per-session conversation history in
// Redis so workflow prompts can carry recent turns.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Turn is one conversation exchange entry.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store persists session turns with a hard cap per session and a TTL.
type Store struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
}

func NewStore(client *redis.Client, maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 12
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, maxTurns: maxTurns, ttl: ttl}
}

func key(sessionID string) string {
	return "crewline:session:" + sessionID
}

// Append records one turn, trimming the oldest entries past the cap.
func (s *Store) Append(ctx context.Context, sessionID, role, content string) error {
	turn := Turn{Role: role, Content: content, At: time.Now().UTC()}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key(sessionID), data)
	pipe.LTrim(ctx, key(sessionID), int64(-s.maxTurns), -1)
	pipe.Expire(ctx, key(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns returns the stored turns, oldest first.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// HistoryText renders the session as "role: content" lines for prompt
// embedding.
func (s *Store) HistoryText(ctx context.Context, sessionID string) (string, error) {
	turns, err := s.Turns(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		lines = append(lines, t.Role+": "+content)
	}
	return strings.Join(lines, "\n"), nil
}

// Clear drops the session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, key(sessionID)).Err()
}
