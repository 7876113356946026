package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/events"
)

const (
	opsWriteWait  = 10 * time.Second
	opsPongWait   = 60 * time.Second
	opsPingPeriod = (opsPongWait * 9) / 10
	opsSendBuffer = 256
)

// OpsStream is the admin firehose: a plain websocket that mirrors every
// domain event for dashboards and support tooling.
type OpsStream struct {
	verifier   *auth.Verifier
	upgrader   websocket.Upgrader
	register   chan *opsClient
	unregister chan *opsClient
	broadcast  chan []byte
	clients    map[*opsClient]bool
	log        *slog.Logger
}

type opsClient struct {
	stream *OpsStream
	conn   *websocket.Conn
	send   chan []byte
}

func NewOpsStream(verifier *auth.Verifier, allowedOrigins []string, log *slog.Logger) *OpsStream {
	return &OpsStream{
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		register:   make(chan *opsClient),
		unregister: make(chan *opsClient),
		broadcast:  make(chan []byte, opsSendBuffer),
		clients:    make(map[*opsClient]bool),
		log:        log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool { return set[r.Header.Get("Origin")] }
}

// Run owns the client set; all membership changes go through its channels.
func (o *OpsStream) Run(ctx context.Context) {
	for {
		select {
		case c := <-o.register:
			o.clients[c] = true
		case c := <-o.unregister:
			if o.clients[c] {
				delete(o.clients, c)
				close(c.send)
			}
		case msg := <-o.broadcast:
			for c := range o.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer, drop it
					delete(o.clients, c)
					close(c.send)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// AttachBus mirrors every event onto the stream.
func (o *OpsStream) AttachBus(bus events.Bus) {
	bus.Subscribe(events.Wildcard, func(_ context.Context, ev events.Event) {
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case o.broadcast <- raw:
		default:
			o.log.Warn("ops stream backlog full, event dropped", "event_id", ev.ID)
		}
	})
}

// ServeHTTP upgrades an admin connection onto the stream.
func (o *OpsStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := o.verifier.Verify(bearerToken(r))
	if err != nil || claims.Role != auth.RoleAdmin {
		http.Error(w, "admin access required", http.StatusUnauthorized)
		return
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.log.Error("ops stream upgrade failed", "error", err)
		return
	}

	c := &opsClient{stream: o, conn: conn, send: make(chan []byte, opsSendBuffer)}
	o.register <- c
	o.log.Info("ops stream connected", "admin_id", claims.UserID)

	go c.writePump()
	go c.readPump()
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return r.URL.Query().Get("token")
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and notice closure.
func (c *opsClient) readPump() {
	defer func() {
		c.stream.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(opsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *opsClient) writePump() {
	ticker := time.NewTicker(opsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
