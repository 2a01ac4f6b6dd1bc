// Package transcript records the output of command runs as asciinema v2
// casts, one file per run.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coldvault/broker/internal/command"
)

const (
	// Columns and Rows size the virtual terminal declared in the header.
	Columns = 120
	Rows    = 40

	// Extension is the file extension of a cast.
	Extension = ".cast"
)

// Header is the first line of an asciinema v2 cast.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one line of output, encoded as [offset, "o", data].
type Event struct {
	Offset float64
	Kind   string
	Data   string
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Offset, e.Kind, e.Data})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Offset); err != nil {
		return fmt.Errorf("invalid event offset: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Kind); err != nil {
		return fmt.Errorf("invalid event kind: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder writes a cast. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	file    *os.File
	path    string
	started time.Time
}

// NewRecorder writes a cast to w and emits its header.
func NewRecorder(w io.Writer, title string) (*Recorder, error) {
	r := &Recorder{w: w, started: time.Now()}
	if err := r.writeLine(Header{
		Version:   2,
		Width:     Columns,
		Height:    Rows,
		Timestamp: r.started.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteOutput appends an output event.
func (r *Recorder) WriteOutput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writeLine(Event{
		Offset: time.Since(r.started).Seconds(),
		Kind:   "o",
		Data:   string(data),
	})
}

func (r *Recorder) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cast line: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write cast line: %w", err)
	}
	return nil
}

// Path returns the file the cast is written to, empty for plain writers.
func (r *Recorder) Path() string {
	return r.path
}

// Close closes the underlying file, if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Dir stores one cast per run in a directory.
type Dir struct {
	root string
}

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// PathFor returns where the cast of runID lives.
func (d *Dir) PathFor(runID string) string {
	return filepath.Join(d.root, filepath.Base(runID)+Extension)
}

// Open creates the cast of a new run.
func (d *Dir) Open(runID string) (command.Transcript, error) {
	path := d.PathFor(runID)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	r, err := NewRecorder(file, runID)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.file = file
	r.path = path
	return r, nil
}

// Read parses a cast.
func Read(src io.Reader) (Header, []Event, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), command.MaxLineSize+1024)

	var header Header
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return header, nil, err
		}
		return header, nil, errors.New("empty transcript")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("invalid transcript header: %w", err)
	}

	var events []Event
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return header, events, fmt.Errorf("invalid transcript event: %w", err)
		}
		events = append(events, ev)
	}
	return header, events, scanner.Err()
}

// Text concatenates the output events of a cast.
func Text(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == "o" {
			b.WriteString(ev.Data)
		}
	}
	return b.String()
}
