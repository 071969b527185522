package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/crewline/internal/oracle"
	"github.com/mohammad-safakhou/crewline/internal/search"
	"github.com/mohammad-safakhou/crewline/internal/store"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

type stubPlanner struct {
	plan oracle.ProposedPlan
}

func (p *stubPlanner) Plan(ctx context.Context, userInput, history string, workers []workflow.Worker) (oracle.ProposedPlan, error) {
	return p.plan, nil
}

type declineOracle struct{}

func (declineOracle) ReviewProgress(ctx context.Context, rc workflow.ReviewContext) (workflow.ReviewDecision, error) {
	return workflow.ReviewDecision{}, nil
}

func (declineOracle) HandleFailure(ctx context.Context, fc workflow.FailureContext) (workflow.FailureDecision, error) {
	return workflow.FailureDecision{Decision: workflow.DecisionAbort}, nil
}

func (declineOracle) Synthesize(ctx context.Context, userInput string, results []workflow.StepResult) (string, error) {
	return "synthesized answer", nil
}

type echoInvoker struct{}

func (echoInvoker) Invoke(ctx context.Context, w workflow.Worker, payload string) workflow.InvokeResult {
	return workflow.InvokeResult{OK: true, Response: "handled by " + w.ID}
}

func testHandler(t *testing.T) (*RunsHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := workflow.NewRegistry()
	reg.Add(workflow.Worker{ID: "PaperAnalyst", Kind: workflow.WorkerLocal, Capabilities: []string{"paper_search"}})

	quiet := log.New(io.Discard, "", 0)
	engine := workflow.NewEngine(reg, declineOracle{}, echoInvoker{}, workflow.EngineConfig{Logger: quiet})

	idx, err := search.NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	return &RunsHandler{
		Store:    &store.Store{DB: db},
		Engine:   engine,
		Planner:  &stubPlanner{plan: oracle.ProposedPlan{Steps: []workflow.RawStep{{Worker: "PaperAnalyst", Goal: "survey literature"}}}},
		Registry: reg,
		Search:   idx,
		Logger:   quiet,
	}, mock
}

func TestCreateRun(t *testing.T) {
	h, mock := testHandler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO runs (user_id, session_id, workflow_id, user_input, answer, termination, steps_executed)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_steps")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/runs",
		strings.NewReader(`{"input":"summarize recent papers"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")

	if err := h.createRun(c); err != nil {
		t.Fatalf("createRun: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "run-1" {
		t.Fatalf("unexpected run id: %s", resp.ID)
	}
	if resp.Termination != "queue_drained" {
		t.Fatalf("unexpected termination: %s", resp.Termination)
	}
	if resp.StepsExecuted != 1 {
		t.Fatalf("expected 1 step executed, got %d", resp.StepsExecuted)
	}
	if !strings.Contains(resp.Answer, "synthesized answer") {
		t.Fatalf("answer missing synthesis: %q", resp.Answer)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	// the run's step output is now searchable
	hits, err := h.Search.Search("user-1", "handled", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RunID != "run-1" {
		t.Fatalf("unexpected search hits: %+v", hits)
	}
}

func TestCreateRunRequiresInput(t *testing.T) {
	h, _ := testHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"input":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")

	err := h.createRun(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestListWorkers(t *testing.T) {
	h, _ := testHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/workers", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")

	if err := h.listWorkers(c); err != nil {
		t.Fatalf("listWorkers: %v", err)
	}
	var out []WorkerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "PaperAnalyst" || out[0].Kind != "local" {
		t.Fatalf("unexpected workers: %+v", out)
	}
}

func TestCreateScheduleRejectsBadCron(t *testing.T) {
	h, _ := testHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/schedules",
		strings.NewReader(`{"name":"daily","input":"digest","cron_expr":"not a cron"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")

	err := h.createSchedule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
