package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/crewline/internal/oracle"
	"github.com/mohammad-safakhou/crewline/internal/search"
	"github.com/mohammad-safakhou/crewline/internal/session"
	"github.com/mohammad-safakhou/crewline/internal/store"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Planner produces the initial collaboration plan for a request.
type Planner interface {
	Plan(ctx context.Context, userInput, history string, workers []workflow.Worker) (oracle.ProposedPlan, error)
}

type RunsHandler struct {
	Store    *store.Store
	Engine   *workflow.Engine
	Planner  Planner
	Registry *workflow.Registry
	Sessions *session.Store
	Search   *search.Index
	Logger   *log.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/runs", h.createRun)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:id", h.getRun)
	g.GET("/search", h.searchRuns)
	g.GET("/workers", h.listWorkers)
	g.POST("/schedules", h.createSchedule)
	g.GET("/schedules", h.listSchedules)
	g.PUT("/schedules/:id/enabled", h.setScheduleEnabled)
}

func (h *RunsHandler) createRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Input) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "input is required")
	}
	userID := c.Get("user_id").(string)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = userID
	}

	ctx := c.Request().Context()
	var history string
	if h.Sessions != nil {
		history, _ = h.Sessions.HistoryText(ctx, sessionID)
	}

	plan, err := h.Planner.Plan(ctx, req.Input, history, h.Registry.Workers())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "planning failed: "+err.Error())
	}

	result := h.Engine.Execute(ctx, workflow.Request{
		SessionID: sessionID,
		UserInput: req.Input,
		History:   history,
		RawPlan:   plan.RawText,
		Steps:     plan.Steps,
	})

	if h.Sessions != nil {
		_ = h.Sessions.Append(ctx, sessionID, "user", req.Input)
		_ = h.Sessions.Append(ctx, sessionID, "assistant", result.Answer)
	}

	runID, err := h.Store.SaveRun(ctx, store.Run{
		UserID:        userID,
		SessionID:     sessionID,
		WorkflowID:    result.WorkflowID,
		UserInput:     req.Input,
		Answer:        result.Answer,
		Termination:   result.Termination,
		StepsExecuted: result.StepsExecuted,
	}, result.Results)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "persist run: "+err.Error())
	}

	if h.Search != nil {
		if err := h.Search.IndexRun(runID, userID, req.Input, result.Results); err != nil {
			h.Logger.Printf("index run %s: %v", runID, err)
		}
	}

	return c.JSON(http.StatusOK, RunResponse{
		ID:            runID,
		WorkflowID:    result.WorkflowID,
		Answer:        result.Answer,
		Termination:   result.Termination,
		StepsExecuted: result.StepsExecuted,
	})
}

func (h *RunsHandler) getRun(c echo.Context) error {
	userID := c.Get("user_id").(string)
	run, steps, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	resp := RunResponse{
		ID:            run.ID,
		WorkflowID:    run.WorkflowID,
		Answer:        run.Answer,
		Termination:   run.Termination,
		StepsExecuted: run.StepsExecuted,
		CreatedAt:     run.CreatedAt,
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, StepResponse{
			StepIndex: s.StepIndex,
			WorkerID:  s.WorkerID,
			OK:        s.OK,
			Response:  s.Response,
			Error:     s.Error,
			Goal:      s.Goal,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *RunsHandler) listRuns(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunResponse{
			ID:            r.ID,
			WorkflowID:    r.WorkflowID,
			Answer:        r.Answer,
			Termination:   r.Termination,
			StepsExecuted: r.StepsExecuted,
			CreatedAt:     r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) searchRuns(c echo.Context) error {
	if h.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search not enabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	userID := c.Get("user_id").(string)
	k, _ := strconv.Atoi(c.QueryParam("k"))
	hits, err := h.Search.Search(userID, q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *RunsHandler) listWorkers(c echo.Context) error {
	workers := h.Registry.Workers()
	out := make([]WorkerResponse, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerResponse{
			ID:           w.ID,
			Kind:         string(w.Kind),
			Description:  w.Description,
			Capabilities: w.Capabilities,
			Tools:        w.ToolNames(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) createSchedule(c echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" || strings.TrimSpace(req.Input) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and input are required")
	}
	if _, err := cronexpr.Parse(req.CronExpr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression: "+err.Error())
	}
	userID := c.Get("user_id").(string)
	id, err := h.Store.CreateSchedule(c.Request().Context(), userID, req.Name, req.Input, req.CronExpr)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *RunsHandler) listSchedules(c echo.Context) error {
	userID := c.Get("user_id").(string)
	schedules, err := h.Store.ListSchedules(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, sc := range schedules {
		resp := ScheduleResponse{
			ID:       sc.ID,
			Name:     sc.Name,
			Input:    sc.UserInput,
			CronExpr: sc.CronExpr,
			Enabled:  sc.Enabled,
		}
		if sc.LastRunAt.Valid {
			t := sc.LastRunAt.Time
			resp.LastRunAt = &t
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) setScheduleEnabled(c echo.Context) error {
	var req SetEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	if err := h.Store.SetScheduleEnabled(c.Request().Context(), c.Param("id"), userID, req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
