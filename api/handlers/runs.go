package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/coldvault/broker/internal/model"
	"github.com/coldvault/broker/internal/transcript"
)

// MaxRunsLimit caps the limit query parameter of the runs listing.
const MaxRunsLimit = 500

// RunReader reads recorded command runs.
type RunReader interface {
	GetByID(ctx context.Context, id string) (*model.CommandRun, error)
	List(ctx context.Context, limit int) ([]*model.CommandRun, error)
}

// RunHandler serves the command run history.
type RunHandler struct {
	runs RunReader
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(runs RunReader) *RunHandler {
	return &RunHandler{runs: runs}
}

// RunResponse represents a command run in API responses.
type RunResponse struct {
	ID           string  `json:"id"`
	ConnectionID string  `json:"connectionId"`
	CommandID    string  `json:"commandId"`
	Script       string  `json:"script"`
	Status       string  `json:"status"`
	ExitCode     *int    `json:"exitCode,omitempty"`
	Error        string  `json:"error,omitempty"`
	Transcript   bool    `json:"transcript"`
	Duration     string  `json:"duration"`
	StartedAt    string  `json:"startedAt"`
	FinishedAt   *string `json:"finishedAt,omitempty"`
}

func toRunResponse(r *model.CommandRun) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		CommandID:    r.CommandID,
		Script:       r.Script,
		Status:       string(r.Status),
		ExitCode:     r.ExitCode,
		Error:        r.Error,
		Transcript:   r.TranscriptPath != "",
		Duration:     formatDuration(r.Duration()),
		StartedAt:    r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = lo.ToPtr(r.FinishedAt.Format(time.RFC3339))
	}
	return resp
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// List handles GET /api/runs - lists recent runs, newest first.
func (h *RunHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxRunsLimit {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and "+strconv.Itoa(MaxRunsLimit))
			return
		}
		limit = n
	}

	runs, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs": lo.Map(runs, func(r *model.CommandRun, _ int) RunResponse {
			return toRunResponse(r)
		}),
	})
}

// Get handles GET /api/runs/:id.
func (h *RunHandler) Get(c *gin.Context) {
	run, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

// GetTranscript handles GET /api/runs/:id/transcript - downloads the cast,
// or its plain output with ?format=text.
func (h *RunHandler) GetTranscript(c *gin.Context) {
	run, ok := h.lookup(c)
	if !ok {
		return
	}

	if run.TranscriptPath == "" {
		sendError(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "No transcript for run "+run.ID)
		return
	}

	if c.Query("format") == "text" {
		f, err := os.Open(run.TranscriptPath)
		if err != nil {
			sendError(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "Transcript for run "+run.ID+" is missing")
			return
		}
		defer f.Close()

		_, events, err := transcript.Read(f)
		if err != nil {
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read transcript: "+err.Error())
			return
		}
		c.String(http.StatusOK, transcript.Text(events))
		return
	}

	if _, err := os.Stat(run.TranscriptPath); err != nil {
		sendError(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "Transcript for run "+run.ID+" is missing")
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+run.ID+transcript.Extension)
	c.File(run.TranscriptPath)
}

func (h *RunHandler) lookup(c *gin.Context) (*model.CommandRun, bool) {
	id := c.Param("id")
	run, err := h.runs.GetByID(c.Request.Context(), id)
	if errors.Is(err, model.ErrRunNotFound) {
		sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run "+id+" not found")
		return nil, false
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run: "+err.Error())
		return nil, false
	}
	return run, true
}

// RegisterRoutes registers the run routes.
func (h *RunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/runs", h.List)
	rg.GET("/runs/:id", h.Get)
	rg.GET("/runs/:id/transcript", h.GetTranscript)
}
