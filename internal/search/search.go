// Package search keeps an in-memory full-text index over completed
// workflow runs so users can search past step outputs.
package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Doc is one indexed step output.
type Doc struct {
	RunID     string `json:"run_id"`
	UserID    string `json:"user_id"`
	WorkerID  string `json:"worker_id"`
	StepIndex int    `json:"step_index"`
	Goal      string `json:"goal"`
	Response  string `json:"response"`
	UserInput string `json:"user_input"`
}

// Hit is one search result.
type Hit struct {
	RunID     string  `json:"run_id"`
	WorkerID  string  `json:"worker_id"`
	StepIndex int     `json:"step_index"`
	Goal      string  `json:"goal"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

type Index struct {
	bleve bleve.Index
	meta  map[string]Doc
	mu    sync.RWMutex
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, meta: make(map[string]Doc)}, nil
}

// IndexRun indexes every successful step of a run. Failed steps carry
// no useful response text and are skipped.
func (x *Index) IndexRun(runID, userID, userInput string, results []workflow.StepResult) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range results {
		if !r.OK {
			continue
		}
		doc := Doc{
			RunID:     runID,
			UserID:    userID,
			WorkerID:  r.WorkerID,
			StepIndex: r.StepIndex,
			Goal:      r.Goal,
			Response:  r.Response,
			UserInput: userInput,
		}
		id := fmt.Sprintf("%s:%d", runID, r.StepIndex)
		x.meta[id] = doc
		if err := x.bleve.Index(id, doc); err != nil {
			return err
		}
	}
	return nil
}

// Search runs a query-string search scoped to one user and returns up
// to k hits by descending score.
func (x *Index) Search(userID, q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Hit
	for _, hit := range res.Hits {
		doc, ok := x.meta[hit.ID]
		if !ok || doc.UserID != userID {
			continue
		}
		out = append(out, Hit{
			RunID:     doc.RunID,
			WorkerID:  doc.WorkerID,
			StepIndex: doc.StepIndex,
			Goal:      doc.Goal,
			Snippet:   snippet(doc.Response),
			Score:     hit.Score,
			Rank:      len(out) + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
