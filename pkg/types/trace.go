package types

import (
	"time"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusPlanning  RunStatus = "planning"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// AgentStatus represents the lifecycle state of a single dispatched action.
// A record is created running and transitions exactly once to a terminal
// status when the executor settles or times out.
type AgentStatus string

const (
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusSkipped   AgentStatus = "skipped"
)

// AgentRecord is one entry in an execution trace: what ran, when, and how
// it ended. Metadata is the free-form diagnostic payload returned by the
// executor.
type AgentRecord struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Name       string         `json:"name,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     AgentStatus    `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Trace is the append-only record of a run: the sole artifact handed to
// callers. It is owned exclusively by the engine while the run is live and
// becomes read-only once FinishedAt is stamped.
type Trace struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Records    []AgentRecord `json:"records"`
	FinalState State         `json:"final_state"`
	Replans    int           `json:"replans"`
}

// RunMeta is a lightweight representation of a run for listing.
type RunMeta struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
