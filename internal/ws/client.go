package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/model"
)

// DefaultQueueSize is the outbound queue length of a client.
const DefaultQueueSize = 256

// MaxMalformed is the number of consecutive undecodable frames after which
// a connection is dropped.
const MaxMalformed = 5

// Protocol identifies which session type a connection speaks.
type Protocol string

const (
	ProtocolUnknown Protocol = ""
	ProtocolCommand Protocol = "command"
	ProtocolChat    Protocol = "chat"
)

// Session is the per-connection state machine bound to a client.
type Session interface {
	// HandleMessage processes one inbound frame.
	HandleMessage(ctx context.Context, data []byte)

	// Close releases everything the session holds. It is called once, from
	// the client's finalizer.
	Close()
}

// SessionFactory creates the session for a newly classified client.
type SessionFactory func(c *Client) Session

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	params map[string]string
	log    *zap.Logger

	send   chan []byte
	closed chan struct{}

	mu        sync.Mutex
	queueDown bool
	protocol  Protocol
	session   Session
	malformed int
	onClose   []func()

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new client. conn may be nil in tests, in which case
// frames are only queued.
func NewClient(id string, conn *websocket.Conn, queueSize int, log *zap.Logger) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     id,
		conn:   conn,
		params: make(map[string]string),
		log:    log.With(zap.String("conn_id", id)),
		send:   make(chan []byte, queueSize),
		closed: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the unique connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Logger returns the connection-scoped logger.
func (c *Client) Logger() *zap.Logger {
	return c.log
}

// Context is cancelled when the client is closed.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Param returns a route parameter captured when the connection was accepted.
func (c *Client) Param(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[key]
}

// SetParam records a route parameter.
func (c *Client) SetParam(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[key] = value
}

// Protocol returns the classification of the connection.
func (c *Client) Protocol() Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// Bind attaches the session that handles this connection's frames.
func (c *Client) Bind(protocol Protocol, session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocol = protocol
	c.session = session
}

// Session returns the bound session, or nil before classification.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// OnClose registers fn to run during teardown, after the session is closed.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// Send queues a frame without blocking. If the queue is full the client is
// treated as a slow consumer and its queue is shut down, which disconnects
// it. It reports whether the frame was queued.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queueDown {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("Outbound queue full, disconnecting slow client", zap.Int("queued", len(c.send)))
		c.shutdownQueueLocked()
		return false
	}
}

// SendContext queues a frame, waiting for queue space until ctx is done or
// the client is closed.
func (c *Client) SendContext(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return model.ErrTransportClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return model.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendText queues a text frame without blocking.
func (c *Client) SendText(text string) bool {
	return c.Send([]byte(text))
}

// ReportMalformed counts an undecodable frame and closes the client once
// MaxMalformed consecutive frames were rejected. It reports whether the
// client was closed.
func (c *Client) ReportMalformed() bool {
	c.mu.Lock()
	c.malformed++
	exceeded := c.malformed >= MaxMalformed
	c.mu.Unlock()

	if exceeded {
		c.log.Warn("Too many malformed frames, closing connection")
		c.Close()
	}
	return exceeded
}

// ClearMalformed resets the consecutive malformed frame counter.
func (c *Client) ClearMalformed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed = 0
}

// Close tears the connection down. It runs exactly once: the outbound queue
// is shut down, the client context is cancelled, the bound session is
// closed synchronously and the registered close hooks run.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.shutdownQueueLocked()
		session := c.session
		hooks := c.onClose
		c.mu.Unlock()

		c.cancel()

		if session != nil {
			session.Close()
		}
		for _, fn := range hooks {
			fn()
		}
		c.log.Debug("Connection closed")
	})
}

// IsClosed returns true if the client's outbound queue is shut down.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueDown
}

// Closed returns a channel that is closed when the outbound queue shuts down.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// SendChan returns the outbound queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) shutdownQueueLocked() {
	if c.queueDown {
		return
	}
	c.queueDown = true
	close(c.closed)
}
