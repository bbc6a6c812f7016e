package federation

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// MessageSink receives bundles forwarded by peers. *fanout.Sender satisfies
// it; the local fan-out path re-validates everything a peer sends us.
type MessageSink interface {
	SendMessage(ctx context.Context, source *model.Account, sourceDeviceID uint64, destination string, messages *model.IncomingMessageList) error
}

var inboundUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// InboundHandler accepts peer relay connections and feeds forwarded bundles
// into the local delivery core.
type InboundHandler struct {
	relayID string
	sink    MessageSink
}

// NewInboundHandler creates the inbound federation endpoint handler.
func NewInboundHandler(relayID string, sink MessageSink) *InboundHandler {
	return &InboundHandler{relayID: relayID, sink: sink}
}

// HandleInboundPeer upgrades an inbound peer connection and processes its
// frames until it closes.
func (h *InboundHandler) HandleInboundPeer(w http.ResponseWriter, r *http.Request) {
	conn, err := inboundUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("federation: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var hello model.PeerHelloFrame
	if err := conn.ReadJSON(&hello); err != nil {
		log.Printf("federation: inbound hello failed: %v", err)
		return
	}
	if hello.Type != model.FrameTypePeerHello || hello.RelayID == "" {
		log.Printf("federation: invalid hello from %s: type=%q relay_id=%q", r.RemoteAddr, hello.Type, hello.RelayID)
		return
	}

	resp := model.PeerHelloFrame{
		Type:    model.FrameTypePeerOK,
		RelayID: h.relayID,
		Version: ProtocolVersion,
	}
	if err := conn.WriteJSON(&resp); err != nil {
		return
	}

	log.Printf("federation: inbound peer connected from %s (relay_id: %s)", r.RemoteAddr, hello.RelayID)
	h.readLoop(conn, hello.RelayID)
}

func (h *InboundHandler) readLoop(conn peerConn, peerRelayID string) {
	for {
		var frame model.PeerSendFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Printf("federation: read error from peer %s: %v", peerRelayID, err)
			return
		}
		if frame.Type != model.FrameTypePeerSend || frame.Messages == nil {
			log.Printf("federation: unexpected frame type %q from peer %s", frame.Type, peerRelayID)
			continue
		}
		h.handlePeerSend(&frame, peerRelayID)
	}
}

// handlePeerSend re-runs the local fan-out path for a forwarded bundle. The
// synthetic source account carries the origin relay so outgoing signals name
// where the message came from.
func (h *InboundHandler) handlePeerSend(frame *model.PeerSendFrame, peerRelayID string) {
	source := &model.Account{
		Number: frame.Source,
		Relay:  peerRelayID,
	}

	// The relay name steered the bundle to us; it must not steer it again.
	messages := *frame.Messages
	messages.Relay = ""

	err := h.sink.SendMessage(context.Background(), source, frame.SourceDevice, frame.Destination, &messages)
	if err != nil {
		log.Printf("federation: forwarded bundle from %s for %s rejected: %v", frame.Source, frame.Destination, err)
	}
}
