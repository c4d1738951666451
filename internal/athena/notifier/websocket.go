package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/log"
)

var _ core.Channel = (*WebSocketHub)(nil)

// ErrNotConnected means nobody is listening on the WebSocket audience.
var ErrNotConnected = errors.New("no websocket connection")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 64 << 10
)

// InboundHandler applies an event received from a client.
type InboundHandler func(ctx context.Context, ev model.InboundEvent) error

// WebSocketHub is the primary delivery channel. Officer devices connect to
// /ws/officers/{id}; dispatch-center dashboards connect to /ws/control.
type WebSocketHub struct {
	log      log.Logger
	upgrader websocket.Upgrader
	inbound  InboundHandler

	mu       sync.RWMutex
	officers map[string]map[*wsConn]struct{}
	control  map[*wsConn]struct{}
}

type wsConn struct {
	conn *websocket.Conn

	// gorilla connections allow one concurrent writer.
	wmu sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// NewWebSocketHub returns a hub. inbound receives acknowledgements and
// location updates sent by officer devices; it may be nil.
func NewWebSocketHub(inbound InboundHandler, logger log.Logger) *WebSocketHub {
	return &WebSocketHub{
		log: logger.WithName("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks belong to the ingress proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbound:  inbound,
		officers: make(map[string]map[*wsConn]struct{}),
		control:  make(map[*wsConn]struct{}),
	}
}

func (h *WebSocketHub) Name() string { return "websocket" }

// Send writes the notification's event to every connection of its audience.
// It succeeds if at least one write does.
func (h *WebSocketHub) Send(ctx context.Context, n *model.Notification) error {
	frame, err := model.EncodeOutbound(n.Event)
	if err != nil {
		return err
	}

	var conns []*wsConn
	h.mu.RLock()
	switch n.Audience {
	case model.AudienceOfficer:
		for c := range h.officers[n.OfficerID] {
			conns = append(conns, c)
		}
	case model.AudienceControl:
		for c := range h.control {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("%w: audience %s %s", ErrNotConnected, n.Audience, n.OfficerID)
	}

	var errs []error
	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(websocket.TextMessage, frame); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}

// Connections reports the number of open officer and control connections.
func (h *WebSocketHub) Connections() (officers, control int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, set := range h.officers {
		officers += len(set)
	}
	return officers, len(h.control)
}

// Close sends a going-away frame to every connection and closes it. The read
// loops then unregister them.
func (h *WebSocketHub) Close() {
	h.mu.RLock()
	var conns []*wsConn
	for _, set := range h.officers {
		for c := range set {
			conns = append(conns, c)
		}
	}
	for c := range h.control {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.write(websocket.CloseMessage, msg)
		_ = c.conn.Close()
	}
	h.log.Info("WebSocket connections closed", "count", len(conns))
}

// ServeOfficer upgrades the request and keeps the officer's connection until
// it closes. Frames from the device are Envelopes carrying
// alert_acknowledged or officer_location_update events.
func (h *WebSocketHub) ServeOfficer(w http.ResponseWriter, r *http.Request, officerID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "officerID", officerID, "error", err)
		return
	}

	c := &wsConn{conn: conn}
	h.mu.Lock()
	if h.officers[officerID] == nil {
		h.officers[officerID] = make(map[*wsConn]struct{})
	}
	h.officers[officerID][c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("Officer connected", "officerID", officerID, "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.officers[officerID], c)
		if len(h.officers[officerID]) == 0 {
			delete(h.officers, officerID)
		}
		h.mu.Unlock()
		h.log.Info("Officer disconnected", "officerID", officerID)
	}()

	h.serve(r.Context(), c, func(ctx context.Context, frame []byte) {
		h.handleOfficerFrame(ctx, officerID, frame)
	})
}

// ServeControl upgrades a dispatch-center dashboard connection. The
// connection is receive-only.
func (h *WebSocketHub) ServeControl(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "audience", model.AudienceControl, "error", err)
		return
	}

	c := &wsConn{conn: conn}
	h.mu.Lock()
	h.control[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("Control client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.control, c)
		h.mu.Unlock()
		h.log.Info("Control client disconnected", "remote", r.RemoteAddr)
	}()

	h.serve(r.Context(), c, nil)
}

// serve runs the read loop and a keepalive pinger until the peer goes away.
func (h *WebSocketHub) serve(ctx context.Context, c *wsConn, onFrame func(context.Context, []byte)) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage || onFrame == nil {
			continue
		}
		onFrame(ctx, frame)
	}
}

// handleOfficerFrame applies a device event. The officer id always comes
// from the connection, never from the payload.
func (h *WebSocketHub) handleOfficerFrame(ctx context.Context, officerID string, frame []byte) {
	ev, err := model.DecodeInbound(frame)
	if err != nil {
		h.log.Warn("Dropping malformed frame", "officerID", officerID, "error", err)
		return
	}

	switch e := ev.(type) {
	case *model.AlertAcknowledged:
		e.OfficerID = officerID
	case *model.OfficerLocationUpdate:
		e.OfficerID = officerID
	default:
		h.log.Warn("Event type not accepted from officer devices", "officerID", officerID, "type", ev.EventType())
		return
	}

	if h.inbound == nil {
		return
	}
	if err := h.inbound(ctx, ev); err != nil {
		h.log.Warn("Officer event rejected", "officerID", officerID, "type", ev.EventType(), "error", err)
	}
}
