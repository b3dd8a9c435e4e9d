// Package transport adapts the websocket connection-management pattern used
// for agent tool-call plumbing to the collaboration domain: one Hub per
// running process fans frames passed to Broadcast out to every connected
// observer, and hands inbound viewer frames (send a chat turn, cast a vote)
// to a registered command handler.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/nebo/internal/logging"
)

// Frame is the wire envelope exchanged over a session's websocket: an event
// pushed from the hub, or a command pushed from a viewer.
type Frame struct {
	Type      string `json:"type"`       // event, command, ack, error
	SessionID string `json:"session_id"`
	Method    string `json:"method,omitempty"`  // for commands: send_message, cast_vote
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Conn is one viewer's websocket connection, scoped to a single session.
type Conn struct {
	ID        string
	SessionID string
	AgentID   string // populated from the verified join token, if any
	Conn      *websocket.Conn
	Send      chan []byte
	CreatedAt time.Time

	mu sync.Mutex
}

// CommandHandler processes an inbound command frame from a viewer and
// returns the payload to ack back, or an error to report.
type CommandHandler func(ctx context.Context, sessionID, method string, payload json.RawMessage) (any, error)

// Hub fans session events out to every viewer currently watching that
// session, and routes inbound commands to a single registered handler.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Conn // sessionID -> connID -> Conn

	register   chan *Conn
	unregister chan *Conn

	handlerMu sync.RWMutex
	handler   CommandHandler

	upgrader websocket.Upgrader
	tokens   *TokenIssuer // nil disables join-token verification
}

// NewHub builds an empty transport hub. A nil issuer accepts any
// connection without a join token (used by tests and by HTTP-auth-only
// deployments); SetTokenIssuer enables verification.
func NewHub() *Hub {
	return &Hub{
		conns:      make(map[string]map[string]*Conn),
		register:   make(chan *Conn, 1),
		unregister: make(chan *Conn, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetTokenIssuer enables join-token verification: every HandleWebSocket
// call must then carry a valid "token" query parameter bound to the
// requested session.
func (h *Hub) SetTokenIssuer(issuer *TokenIssuer) {
	h.tokens = issuer
}

// SetCommandHandler installs the function invoked for every inbound command
// frame. Must be called before Run accepts connections to avoid dropping
// early commands.
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = handler
}

// Run drives connection bookkeeping until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.addConn(c)
		case c := <-h.unregister:
			h.removeConn(c)
		}
	}
}

func (h *Hub) addConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.SessionID] == nil {
		h.conns[c.SessionID] = make(map[string]*Conn)
	}
	h.conns[c.SessionID][c.ID] = c
	logging.Infof("transport: viewer %s connected to session %s", c.ID, c.SessionID)
}

func (h *Hub) removeConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if byID, ok := h.conns[c.SessionID]; ok {
		if existing, ok := byID[c.ID]; ok && existing == c {
			delete(byID, c.ID)
			if len(byID) == 0 {
				delete(h.conns, c.SessionID)
			}
			func() {
				defer func() { recover() }()
				close(c.Send)
			}()
			if c.Conn != nil {
				c.Conn.Close()
			}
		}
	}
}

// ViewerCount reports how many viewers currently watch sessionID.
func (h *Hub) ViewerCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[sessionID])
}

// Broadcast pushes an event frame to every viewer of sessionID. Viewers with
// a full send buffer are skipped rather than blocked.
func (h *Hub) Broadcast(sessionID, method string, payload any) {
	frame := Frame{Type: "event", SessionID: sessionID, Method: method, Payload: payload}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Warnf("transport: failed to marshal broadcast frame: %v", err)
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns[sessionID]))
	for _, c := range h.conns[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.Send <- data:
		default:
			logging.Warnf("transport: dropping broadcast to viewer %s (buffer full)", c.ID)
		}
	}
}

// HandleWebSocket upgrades r and registers the resulting connection against
// sessionID. When a TokenIssuer is installed, the request's "token" query
// parameter must verify against sessionID or the upgrade is refused.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID, connID string) {
	agentID := ""
	if h.tokens != nil {
		id, err := h.tokens.ParseJoinToken(r.URL.Query().Get("token"), sessionID)
		if err != nil {
			logging.Warnf("transport: join token rejected for session %s: %v", sessionID, err)
			http.Error(w, "invalid or missing join token", http.StatusUnauthorized)
			return
		}
		agentID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("transport: upgrade failed: %v", err)
		return
	}

	c := &Conn{
		ID:        connID,
		SessionID: sessionID,
		AgentID:   agentID,
		Conn:      conn,
		Send:      make(chan []byte, 64),
		CreatedAt: time.Now(),
	}
	h.register <- c

	go h.writePump(c)
	h.readPump(c) // blocks until the connection closes
}

func (h *Hub) readPump(c *Conn) {
	defer func() { h.unregister <- c }()

	c.Conn.SetReadLimit(1 << 20)
	c.Conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type != "command" {
			continue
		}
		h.handleCommand(c, &frame, message)
	}
}

func (h *Hub) handleCommand(c *Conn, frame *Frame, raw []byte) {
	h.handlerMu.RLock()
	handler := h.handler
	h.handlerMu.RUnlock()

	var rawPayload json.RawMessage
	if frame.Payload != nil {
		rawPayload, _ = json.Marshal(frame.Payload)
	}

	response := Frame{Type: "ack", SessionID: c.SessionID, Method: frame.Method}
	if handler == nil {
		response.Type = "error"
		response.Error = "no command handler registered"
	} else if result, err := handler(context.Background(), c.SessionID, frame.Method, rawPayload); err != nil {
		response.Type = "error"
		response.Error = err.Error()
	} else {
		response.Payload = result
	}

	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
