package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/model"
)

var validate = validator.New()

// ReplyTimeout bounds how long a rejection waits for room in the client's
// outbound queue while a worker is streaming.
const ReplyTimeout = 5 * time.Second

// Request is the client frame that starts a command.
type Request struct {
	Cmd string `json:"cmd" validate:"required,max=64"`
}

// Conn is the connection a session writes to.
type Conn interface {
	ID() string

	// SendContext queues a frame, waiting for room in the queue.
	SendContext(ctx context.Context, data []byte) error

	// ReportMalformed counts an undecodable frame and reports whether the
	// connection was closed because of it.
	ReportMalformed() bool

	// ClearMalformed resets the malformed frame counter.
	ClearMalformed()
}

type inflight struct {
	commandID string
	done      chan struct{}
}

// Session runs at most one command at a time for a connection and streams
// its output back in production order.
type Session struct {
	svc  *Service
	conn Conn
	log  *zap.Logger

	// ctx is cancelled by Close and bounds every run of the session.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	current *inflight
}

// NewSession creates the command session for conn.
func (s *Service) NewSession(conn Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		svc:    s,
		conn:   conn,
		log:    s.log.With(zap.String("conn_id", conn.ID())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// HandleMessage decodes a command request and submits it. Every rejection
// is answered with a single error frame; the connection stays open.
func (s *Session) HandleMessage(_ context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil || validate.Struct(req) != nil {
		s.log.Debug("Invalid command frame", zap.ByteString("frame", data))
		s.reply(Failed("invalid JSON command"))
		s.conn.ReportMalformed()
		return
	}
	s.conn.ClearMalformed()

	err := s.Submit(req.Cmd)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrSessionClosed):
		// The connection is going away
	default:
		s.reply(Failed("%v", err))
	}
}

// reply queues a rejection frame. A running worker may keep the queue full,
// so the frame waits for room instead of tripping the slow consumer check.
func (s *Session) reply(f Frame) {
	ctx, cancel := context.WithTimeout(s.ctx, ReplyTimeout)
	defer cancel()
	if err := s.conn.SendContext(ctx, f.Bytes()); err != nil {
		s.log.Debug("Rejection not delivered", zap.Error(err))
	}
}

// Submit starts the worker for commandID. It fails with ErrCommandBusy if
// a command is already running on this session; the request is not queued.
func (s *Session) Submit(commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrSessionClosed
	}
	if s.current != nil {
		return fmt.Errorf("%w: %s is still running", model.ErrCommandBusy, s.current.commandID)
	}

	spec, ok := s.svc.catalog.Lookup(commandID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownCommand, commandID)
	}

	run := &inflight{commandID: commandID, done: make(chan struct{})}
	s.current = run

	go s.run(spec, run)
	return nil
}

// Running returns the identifier of the in-flight command, if any.
func (s *Session) Running() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.commandID
}

// Close cancels the in-flight command, if any, and waits until its worker
// is released. No frame is sent after Close returns.
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	current := s.current
	s.mu.Unlock()

	if current != nil {
		<-current.done
	}
}

// run drives one worker from spawn to terminal frame.
func (s *Session) run(spec WorkerSpec, run *inflight) {
	defer close(run.done)

	ctx := s.ctx
	rec := s.svc.beginRun(s.conn.ID(), spec)

	if err := s.conn.SendContext(ctx, Started(spec).Bytes()); err != nil {
		s.finish(ctx, rec, Frame{}, model.RunStatusCancelled, nil, err.Error())
		return
	}

	proc, err := s.svc.runner.Start(ctx, spec)
	if err != nil {
		s.finish(ctx, rec, Failed("failed to start worker: %v", err), model.RunStatusFailed, nil, err.Error())
		return
	}

	detached := false
	for line := range proc.Lines() {
		rec.output(line)
		if err := s.conn.SendContext(ctx, Line(line).Bytes()); err != nil {
			detached = true
			// Client is gone: stop the worker, nothing else is delivered
			if killErr := proc.Kill(); killErr != nil {
				s.log.Warn("Failed to kill worker", zap.Error(killErr))
			}
			break
		}
	}

	exitCode, waitErr := proc.Wait()

	switch {
	case ctx.Err() != nil || detached:
		s.finish(ctx, rec, Frame{}, model.RunStatusCancelled, nil, "cancelled")
	case waitErr != nil:
		s.finish(ctx, rec, Failed("worker failed: %v", waitErr), model.RunStatusFailed, nil, waitErr.Error())
	case exitCode != 0:
		s.finish(ctx, rec, Failed("worker exited with code %d", exitCode), model.RunStatusFailed, &exitCode,
			fmt.Sprintf("%v: exit code %d", model.ErrWorkerFailure, exitCode))
	default:
		s.finish(ctx, rec, Completed(), model.RunStatusCompleted, &exitCode, "")
	}
}

// finish records the result, queues the terminal frame and frees the
// session for the next command. The slot is released while holding the
// session lock so a client that has read the terminal frame can submit
// again right away.
func (s *Session) finish(ctx context.Context, rec *runRecord, terminal Frame, status model.RunStatus, exitCode *int, errText string) {
	rec.finish(status, exitCode, errText)

	s.mu.Lock()
	defer s.mu.Unlock()

	if terminal.Terminal() && ctx.Err() == nil {
		if err := s.conn.SendContext(ctx, terminal.Bytes()); err != nil {
			s.log.Debug("Terminal frame not delivered", zap.Error(err))
		}
	}
	s.current = nil
}
