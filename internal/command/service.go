package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/model"
)

// RunStore persists command runs.
type RunStore interface {
	Create(ctx context.Context, run *model.CommandRun) error
	Finish(ctx context.Context, id string, status model.RunStatus, exitCode *int, errText string) error
}

// Transcript records the output of one run.
type Transcript interface {
	WriteOutput(data []byte) error
	Path() string
	Close() error
}

// TranscriptOpener creates the transcript of a run.
type TranscriptOpener interface {
	Open(runID string) (Transcript, error)
}

// Service holds what every command session shares.
type Service struct {
	catalog     *Catalog
	runner      Runner
	runs        RunStore
	transcripts TranscriptOpener
	log         *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRunStore records every run in store.
func WithRunStore(store RunStore) Option {
	return func(s *Service) { s.runs = store }
}

// WithTranscripts records the output of every run.
func WithTranscripts(opener TranscriptOpener) Option {
	return func(s *Service) { s.transcripts = opener }
}

// NewService creates a new command Service.
func NewService(catalog *Catalog, runner Runner, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		catalog: catalog,
		runner:  runner,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the worker catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// runRecord tracks the bookkeeping of one run. Failures to record are
// logged and never affect the stream sent to the client.
type runRecord struct {
	run        *model.CommandRun
	runs       RunStore
	transcript Transcript
	log        *zap.Logger
}

func (s *Service) beginRun(connID string, spec WorkerSpec) *runRecord {
	rec := &runRecord{
		run: &model.CommandRun{
			ID:           uuid.NewString(),
			ConnectionID: connID,
			CommandID:    spec.ID,
			Script:       spec.Script,
			Status:       model.RunStatusRunning,
			StartedAt:    time.Now(),
		},
		runs: s.runs,
	}
	rec.log = s.log.With(zap.String("run_id", rec.run.ID), zap.String("cmd", spec.ID))

	if s.transcripts != nil {
		t, err := s.transcripts.Open(rec.run.ID)
		if err != nil {
			rec.log.Warn("Failed to open transcript", zap.Error(err))
		} else {
			rec.transcript = t
			rec.run.TranscriptPath = t.Path()
		}
	}

	if rec.runs != nil {
		if err := rec.runs.Create(context.Background(), rec.run); err != nil {
			rec.log.Warn("Failed to record run", zap.Error(err))
		}
	}

	rec.log.Info("Command started", zap.String("conn_id", connID))
	return rec
}

func (r *runRecord) output(line string) {
	if r.transcript == nil {
		return
	}
	if err := r.transcript.WriteOutput([]byte(line + "\r\n")); err != nil {
		r.log.Warn("Failed to write transcript", zap.Error(err))
	}
}

func (r *runRecord) finish(status model.RunStatus, exitCode *int, errText string) {
	if r.transcript != nil {
		if err := r.transcript.Close(); err != nil {
			r.log.Warn("Failed to close transcript", zap.Error(err))
		}
	}

	if r.runs != nil {
		if err := r.runs.Finish(context.Background(), r.run.ID, status, exitCode, errText); err != nil {
			r.log.Warn("Failed to record run result", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(r.run.StartedAt)),
	}
	if exitCode != nil {
		fields = append(fields, zap.Int("exit_code", *exitCode))
	}
	if errText != "" {
		fields = append(fields, zap.String("error", errText))
	}
	r.log.Info("Command finished", fields...)
}
