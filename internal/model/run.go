package model

import "time"

// RunStatus represents the lifecycle state of a command run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// CommandRun records one worker invocation made on behalf of a connection.
type CommandRun struct {
	ID             string     `json:"id"`
	ConnectionID   string     `json:"connectionId"`
	CommandID      string     `json:"commandId"`
	Script         string     `json:"script"`
	Status         RunStatus  `json:"status"`
	ExitCode       *int       `json:"exitCode,omitempty"`
	Error          string     `json:"error,omitempty"`
	TranscriptPath string     `json:"transcriptPath,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// Duration returns how long the run took, or has been running so far.
func (r *CommandRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Finished reports whether the run reached a terminal status.
func (r *CommandRun) Finished() bool {
	return r.Status != RunStatusRunning
}
