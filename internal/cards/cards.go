// Package cards loads worker card definitions from a directory of JSON
// files and turns them into a workflow registry.
package cards

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Card is one worker definition on disk. Tools may be objects or bare
// strings.
type Card struct {
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	Description        string            `json:"description"`
	Capabilities       []string          `json:"capabilities"`
	Tools              []json.RawMessage `json:"tools"`
	Endpoint           string            `json:"endpoint"`
	BaseURL            string            `json:"base_url"`
	InstructionPreview string            `json:"instruction_preview"`
}

// LoadDir reads every .json file in dir. Each file may hold a single
// card object or an array of cards; later files override earlier cards
// with the same name, case-insensitive.
func LoadDir(dir string) (*workflow.Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cards dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	reg := workflow.NewRegistry()
	for _, name := range names {
		cards, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("card file %s: %w", name, err)
		}
		for _, c := range cards {
			w, err := c.Worker()
			if err != nil {
				return nil, fmt.Errorf("card file %s: %w", name, err)
			}
			reg.Add(w)
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no worker cards found in %s", dir)
	}
	return reg, nil
}

func loadFile(path string) ([]Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var cards []Card
		if err := json.Unmarshal(data, &cards); err != nil {
			return nil, err
		}
		return cards, nil
	}
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, err
	}
	return []Card{card}, nil
}

// Worker converts a card to its registry form.
func (c Card) Worker() (workflow.Worker, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return workflow.Worker{}, fmt.Errorf("card missing name")
	}

	kind := workflow.WorkerKind(strings.ToLower(strings.TrimSpace(c.Type)))
	if kind == "" {
		kind = workflow.WorkerLocal
	}
	if kind != workflow.WorkerLocal && kind != workflow.WorkerRemote {
		return workflow.Worker{}, fmt.Errorf("card %s has unknown type %q", name, c.Type)
	}

	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.BaseURL)
	}
	if kind == workflow.WorkerRemote && endpoint == "" {
		return workflow.Worker{}, fmt.Errorf("remote card %s missing endpoint", name)
	}

	var tools []workflow.Tool
	for _, raw := range c.Tools {
		tool, ok := decodeTool(raw)
		if ok {
			tools = append(tools, tool)
		}
	}

	var caps []string
	for _, item := range c.Capabilities {
		if token := strings.TrimSpace(item); token != "" {
			caps = append(caps, token)
		}
	}

	return workflow.Worker{
		ID:                 name,
		Kind:               kind,
		Description:        strings.TrimSpace(c.Description),
		Capabilities:       caps,
		Tools:              tools,
		Endpoint:           endpoint,
		InstructionPreview: strings.TrimSpace(c.InstructionPreview),
	}, nil
}

func decodeTool(raw json.RawMessage) (workflow.Tool, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return workflow.Tool{}, false
		}
		return workflow.Tool{Name: name}, true
	}
	var tool workflow.Tool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return workflow.Tool{}, false
	}
	tool.Name = strings.TrimSpace(tool.Name)
	if tool.Name == "" {
		return workflow.Tool{}, false
	}
	return tool, true
}
