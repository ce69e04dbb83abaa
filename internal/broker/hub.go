package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/logging"
)

const sendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn is one harness's WebSocket connection: exactly one per harness_id
// (spec §6 "exactly one harness per connection").
type conn struct {
	hub       *Hub
	ws        *websocket.Conn
	harnessID string
	send      chan Frame
}

// Hub owns every live harness connection and drives frames between the
// wire and the Sessions state machine. Grounded on the teacher's
// register/unregister/broadcast channel pattern.
type Hub struct {
	sessions   *Sessions
	log        *zap.SugaredLogger
	register   chan *conn
	unregister chan *conn
	conns      map[string]*conn // harness_id -> conn
}

func NewHub(sessions *Sessions) *Hub {
	return &Hub{
		sessions:   sessions,
		log:        logging.New("broker-hub"),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		conns:      make(map[string]*conn),
	}
}

// Run is the hub's single-goroutine ownership loop for the connection map.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			if old, ok := h.conns[c.harnessID]; ok {
				close(old.send)
			}
			h.conns[c.harnessID] = c
		case c := <-h.unregister:
			if cur, ok := h.conns[c.harnessID]; ok && cur == c {
				delete(h.conns, c.harnessID)
				close(c.send)
			}
			h.sessions.Disconnect(c.harnessID)
		}
	}
}

// Send delivers a frame to a connected harness if one is attached, used to
// push session acks/commands out-of-band from the read loop.
func (h *Hub) Send(harnessID string, f Frame) bool {
	c, ok := h.conns[harnessID]
	if !ok {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// ServeWS upgrades an HTTP request to a harness connection and blocks
// until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{hub: h, ws: ws, send: make(chan Frame, sendBufferSize)}
	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		if c.harnessID != "" {
			c.hub.unregister <- c
		}
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(domain.HeartbeatInterval + domain.PongDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(domain.HeartbeatInterval + domain.PongDeadline))
		return nil
	})

	authenticated := false
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}

		if !authenticated {
			if f.Type != "auth" {
				c.sendErr(f.MessageID, domain.NewError(domain.ErrUnauthorized, "auth frame required before any other frame"))
				continue
			}
			token, _ := f.Payload["token"].(string)
			harnessID, _ := f.Payload["harness_id"].(string)
			if err := c.hub.sessions.Authenticate(harnessID, token); err != nil {
				c.sendErr(f.MessageID, err)
				return
			}
			c.harnessID = harnessID
			authenticated = true
			c.hub.register <- c
			continue
		}

		if c.hub.sessions.Dedup(f.MessageID) {
			continue
		}
		c.dispatch(f)
	}
}

func (c *conn) dispatch(f Frame) {
	ctx := context.Background()
	switch f.Type {
	case "ack":
		if f.SessionID == nil {
			return
		}
		if _, err := c.hub.sessions.Ack(ctx, *f.SessionID); err != nil {
			c.sendErr(f.MessageID, err)
		}
	case "heartbeat":
		if f.SessionID == nil {
			return
		}
		if err := c.hub.sessions.Heartbeat(ctx, *f.SessionID); err != nil {
			c.sendErr(f.MessageID, err)
		}
	case "complete":
		if f.SessionID == nil {
			return
		}
		if _, err := c.hub.sessions.Complete(ctx, *f.SessionID); err != nil {
			c.sendErr(f.MessageID, err)
		}
	case "fail":
		if f.SessionID == nil {
			return
		}
		reason, _ := f.Payload["reason"].(string)
		if _, err := c.hub.sessions.Fail(ctx, *f.SessionID, reason); err != nil {
			c.sendErr(f.MessageID, err)
		}
	}
}

func (c *conn) sendErr(correlationID string, err error) {
	f := Frame{
		Type:      "error",
		MessageID: uuid.NewString(),
		Payload:   map[string]any{"message": err.Error()},
	}
	if correlationID != "" {
		f.CorrelationID = &correlationID
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(domain.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
