package command

import "fmt"

// FrameKind identifies the role of a frame in a command's output stream.
type FrameKind int

const (
	FrameStarted FrameKind = iota
	FrameLine
	FrameCompleted
	FrameError
)

// Frame is one text frame sent to the command channel client.
type Frame struct {
	Kind FrameKind
	Text string
}

// Started acknowledges an accepted command.
func Started(spec WorkerSpec) Frame {
	return Frame{Kind: FrameStarted, Text: spec.Script}
}

// Line carries one line of worker output.
func Line(text string) Frame {
	return Frame{Kind: FrameLine, Text: text}
}

// Completed is the terminal frame of a successful run.
func Completed() Frame {
	return Frame{Kind: FrameCompleted}
}

// Failed is the terminal frame of a failed run, or a rejection.
func Failed(format string, args ...any) Frame {
	return Frame{Kind: FrameError, Text: fmt.Sprintf(format, args...)}
}

// Terminal reports whether the frame ends a run.
func (f Frame) Terminal() bool {
	return f.Kind == FrameCompleted || f.Kind == FrameError
}

// String renders the frame as it appears on the wire.
func (f Frame) String() string {
	switch f.Kind {
	case FrameStarted:
		return fmt.Sprintf("> Running %s ...", f.Text)
	case FrameLine:
		return f.Text
	case FrameCompleted:
		return "[completed] exit code 0"
	case FrameError:
		return "[error] " + f.Text
	default:
		return f.Text
	}
}

// Bytes returns the wire encoding of the frame.
func (f Frame) Bytes() []byte {
	return []byte(f.String())
}
