package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coldvault/broker/internal/model"
)

// fakeProcess is a worker whose output and exit are driven by the test.
type fakeProcess struct {
	lines chan string
	exit  chan int

	killOnce sync.Once
	killed   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		lines:  make(chan string),
		exit:   make(chan int, 1),
		killed: make(chan struct{}),
	}
}

func (p *fakeProcess) Lines() <-chan string { return p.lines }

func (p *fakeProcess) Wait() (int, error) {
	select {
	case code := <-p.exit:
		return code, nil
	case <-p.killed:
		return -1, nil
	}
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProcess) PID() int { return 42 }

// emit sends lines and then exits with code.
func (p *fakeProcess) emit(code int, lines ...string) {
	for _, line := range lines {
		select {
		case p.lines <- line:
		case <-p.killed:
			close(p.lines)
			return
		}
	}
	close(p.lines)
	p.exit <- code
}

// block keeps the process alive until it is killed.
func (p *fakeProcess) block() {
	<-p.killed
	close(p.lines)
}

// fakeRunner hands out processes scripted by the test.
type fakeRunner struct {
	mu       sync.Mutex
	started  []WorkerSpec
	startErr error
	script   func(ctx context.Context, p *fakeProcess)
}

func (r *fakeRunner) Start(ctx context.Context, spec WorkerSpec) (Process, error) {
	r.mu.Lock()
	r.started = append(r.started, spec)
	err := r.startErr
	script := r.script
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	p := newFakeProcess()
	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.killed:
		}
	}()
	go script(ctx, p)
	return p, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// fakeConn records frames sent to the client.
type fakeConn struct {
	mu        sync.Mutex
	frames    []string
	malformed int
	closed    bool
	notify    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan struct{}, 1024)}
}

func (c *fakeConn) ID() string { return "conn-1" }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, string(data))
	c.notify <- struct{}{}
	return true
}

func (c *fakeConn) SendContext(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Send(data) {
		return model.ErrTransportClosed
	}
	return nil
}

func (c *fakeConn) ReportMalformed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
	return false
}

func (c *fakeConn) ClearMalformed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed = 0
}

func (c *fakeConn) malformedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.malformed
}

func (c *fakeConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// waitFor blocks until the last recorded frame satisfies done.
func (c *fakeConn) waitFor(done func(frames []string) bool) ([]string, error) {
	deadline := time.After(5 * time.Second)
	for {
		frames := c.snapshot()
		if done(frames) {
			return frames, nil
		}
		select {
		case <-c.notify:
		case <-deadline:
			return frames, errors.New("timed out waiting for frames")
		}
	}
}

func terminalCount(frames []string) int {
	n := 0
	for _, f := range frames {
		if f == "[completed] exit code 0" || len(f) > 8 && f[:8] == "[error] " {
			n++
		}
	}
	return n
}

func untilTerminals(n int) func([]string) bool {
	return func(frames []string) bool { return terminalCount(frames) >= n }
}

func untilCount(n int) func([]string) bool {
	return func(frames []string) bool { return len(frames) >= n }
}
