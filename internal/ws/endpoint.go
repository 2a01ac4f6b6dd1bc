package ws

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Options configures an Endpoint.
type Options struct {
	// QueueSize is the outbound queue length of each client.
	QueueSize int

	// AllowedOrigins restricts browser origins. Empty or "*" allows all.
	AllowedOrigins []string
}

// Endpoint accepts WebSocket connections and hands each one to the
// session matching its protocol.
type Endpoint struct {
	upgrader  websocket.Upgrader
	registry  *Registry
	factories map[Protocol]SessionFactory
	queueSize int
	log       *zap.Logger
}

// NewEndpoint creates a new Endpoint.
func NewEndpoint(registry *Registry, log *zap.Logger, opts Options) *Endpoint {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Endpoint{
		registry:  registry,
		factories: make(map[Protocol]SessionFactory),
		queueSize: opts.QueueSize,
		log:       log,
	}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return e
}

// Handle registers the session factory for a protocol.
func (e *Endpoint) Handle(protocol Protocol, factory SessionFactory) {
	e.factories[protocol] = factory
}

// Registry returns the live connection registry.
func (e *Endpoint) Registry() *Registry {
	return e.registry
}

// Serve upgrades the request and runs the connection. With ProtocolUnknown
// the first inbound frame decides which session handles the connection.
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request, protocol Protocol, params map[string]string) error {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), conn, e.queueSize, e.log)
	for k, v := range params {
		client.SetParam(k, v)
	}
	e.registry.Add(client)

	if protocol != ProtocolUnknown {
		if !e.bind(client, protocol) {
			client.Close()
			conn.Close()
			return nil
		}
	}

	client.Logger().Debug("Connection accepted",
		zap.String("remote", r.RemoteAddr),
		zap.String("path", r.URL.Path))

	go e.writePump(client)
	go e.readPump(client)

	return nil
}

func (e *Endpoint) bind(client *Client, protocol Protocol) bool {
	factory, ok := e.factories[protocol]
	if !ok {
		client.Logger().Error("No session registered for protocol", zap.String("protocol", string(protocol)))
		return false
	}
	client.Bind(protocol, factory(client))
	return true
}

// readPump pumps frames from the WebSocket connection to the bound session.
// The socket itself is closed by the write pump once the queue is flushed.
func (e *Endpoint) readPump(client *Client) {
	defer client.Close()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				client.Logger().Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}

		session := client.Session()
		if session == nil {
			protocol, err := Classify(message)
			if err != nil {
				client.Logger().Info("Rejecting unclassifiable connection", zap.Error(err))
				client.SendText("[error] " + err.Error())
				return
			}
			if !e.bind(client, protocol) {
				return
			}
			session = client.Session()
		}

		session.HandleMessage(client.Context(), message)
	}
}

// writePump pumps frames from the client queue to the WebSocket connection.
func (e *Endpoint) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	write := func(message []byte) bool {
		client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
		return client.Conn().WriteMessage(websocket.TextMessage, message) == nil
	}

	for {
		select {
		case message := <-client.SendChan():
			// Send each frame in its own WebSocket message so clients can
			// parse them one by one
			if !write(message) {
				client.Close()
				return
			}

		case <-client.Closed():
			// Flush what was queued before the shutdown, then say goodbye
		drain:
			for {
				select {
				case message := <-client.SendChan():
					if !write(message) {
						return
					}
				default:
					break drain
				}
			}
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			client.Conn().WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
