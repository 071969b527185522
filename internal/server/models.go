package server

import "time"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// CreateRunRequest starts a collaboration run for the caller.
type CreateRunRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// RunResponse is the synchronous result of a run.
type RunResponse struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Answer        string         `json:"answer"`
	Termination   string         `json:"termination"`
	StepsExecuted int            `json:"steps_executed"`
	CreatedAt     time.Time      `json:"created_at,omitempty"`
	Steps         []StepResponse `json:"steps,omitempty"`
}

// StepResponse is one step of a persisted run.
type StepResponse struct {
	StepIndex int    `json:"step_index"`
	WorkerID  string `json:"worker_id"`
	OK        bool   `json:"ok"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	Goal      string `json:"goal"`
}

// WorkerResponse describes one registered worker.
type WorkerResponse struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// CreateScheduleRequest registers a recurring workflow.
type CreateScheduleRequest struct {
	Name     string `json:"name"`
	Input    string `json:"input"`
	CronExpr string `json:"cron_expr"`
}

// ScheduleResponse is one stored schedule.
type ScheduleResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Input     string     `json:"input"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// SetEnabledRequest toggles a schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}
