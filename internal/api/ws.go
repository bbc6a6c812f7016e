package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/metrics"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/store"
)

// OriginChecker validates WebSocket origin against an allowlist.
type OriginChecker struct {
	allowedOrigins map[string]bool
	devMode        bool
}

// NewOriginChecker creates a new origin checker. allowedOrigins is a
// comma-separated list; devMode allows all origins for local development.
func NewOriginChecker(allowedOrigins string, devMode bool) *OriginChecker {
	oc := &OriginChecker{
		allowedOrigins: make(map[string]bool),
		devMode:        devMode,
	}
	if devMode {
		return oc
	}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			oc.allowedOrigins[origin] = true
		}
	}
	return oc
}

// Check validates if the origin is allowed.
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.devMode {
		return true
	}
	if len(oc.allowedOrigins) == 0 {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header means a same-origin or non-browser client.
		return true
	}
	return oc.allowedOrigins[origin]
}

// WSHandler is the local real-time channel: devices with fetches_messages
// connect here and receive their signals as JSON frames.
type WSHandler struct {
	accounts      store.AccountStore
	clients       *model.ClientRegistry
	originChecker *OriginChecker
}

// NewWSHandler creates the local streaming channel handler.
func NewWSHandler(accounts store.AccountStore, clients *model.ClientRegistry, allowedOrigins string, devMode bool) *WSHandler {
	return &WSHandler{
		accounts:      accounts,
		clients:       clients,
		originChecker: NewOriginChecker(allowedOrigins, devMode),
	}
}

// HandleWebSocket upgrades the connection and serves the client until it
// disconnects.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.originChecker.Check(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Origin already validated above
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: failed to upgrade: %v", err)
		return
	}
	defer conn.Close()

	metrics.ConnectionsCurrent.Inc()
	defer metrics.ConnectionsCurrent.Dec()

	client := &model.Client{
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	go h.writePump(client)
	h.readPump(client)
}

// readPump reads frames from the client until the connection drops.
func (h *WSHandler) readPump(client *model.Client) {
	defer func() {
		if client.Number != "" {
			h.clients.Unregister(client)
		}
		client.Conn.Close()
	}()

	for {
		var frame model.WSFrame
		err := client.Conn.ReadJSON(&frame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			break
		}
		h.handleFrame(client, &frame)
	}
}

// writePump writes queued frames and keepalive pings.
func (h *WSHandler) writePump(client *model.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleFrame(client *model.Client, frame *model.WSFrame) {
	switch frame.Type {
	case model.FrameTypeHello:
		h.handleHello(client, frame)
	default:
		h.sendError(client, "unknown frame type")
	}
}

// handleHello binds the connection to an identity and device. The device
// must exist and be flagged for local fetching.
func (h *WSHandler) handleHello(client *model.Client, frame *model.WSFrame) {
	if frame.Number == "" || frame.DeviceID == 0 {
		h.sendError(client, "number and device_id required")
		return
	}

	device, err := h.accounts.GetDevice(context.Background(), frame.Number, frame.DeviceID)
	if err != nil {
		h.sendError(client, "unknown device")
		return
	}
	if !device.FetchesMessages {
		h.sendError(client, "device does not fetch messages")
		return
	}

	client.ID = uuid.New().String()
	client.Number = frame.Number
	client.DeviceID = frame.DeviceID
	h.clients.Register(client)

	log.Printf("ws: client connected %s.%d", client.Number, client.DeviceID)
	h.send(client, model.WSFrame{Type: model.FrameTypeHelloOK})
}

// Deliver hands a signal to the device's live connections. Fire-and-forget:
// a device with no connection simply misses the signal and relies on its own
// sync on next connect.
func (h *WSHandler) Deliver(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error {
	recipients := h.clients.GetClients(account.Number, device.ID)
	if len(recipients) == 0 {
		log.Printf("ws: no live connection for %s.%d", account.Number, device.ID)
		metrics.IncrementLocalDropped()
		return nil
	}
	for _, r := range recipients {
		h.send(r, model.WSFrame{
			Type:   model.FrameTypeSignal,
			Signal: signal,
		})
		metrics.IncrementLocalDelivered()
	}
	return nil
}

// send queues a frame with bounded backpressure: wait up to a second for
// space rather than silently dropping.
func (h *WSHandler) send(client *model.Client, frame model.WSFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("ws: failed to marshal frame: %v", err)
		return
	}
	select {
	case client.Send <- data:
	case <-time.After(1 * time.Second):
		log.Printf("ws: send channel full for %s.%d, dropping", client.Number, client.DeviceID)
		metrics.IncrementLocalDropped()
	}
}

func (h *WSHandler) sendError(client *model.Client, msg string) {
	h.send(client, model.WSFrame{
		Type:    model.FrameTypeError,
		Message: msg,
	})
}
