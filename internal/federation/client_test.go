package federation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// newPeerServer runs a fake peer relay that completes the handshake and
// forwards every received bundle on the returned channel.
func newPeerServer(t *testing.T) (string, chan model.PeerSendFrame) {
	t.Helper()
	frames := make(chan model.PeerSendFrame, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var hello model.PeerHelloFrame
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		if hello.Type != model.FrameTypePeerHello {
			return
		}
		conn.WriteJSON(model.PeerHelloFrame{
			Type:    model.FrameTypePeerOK,
			RelayID: "peer-relay-id",
			Version: ProtocolVersion,
		})

		for {
			var frame model.PeerSendFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames
}

func nextPeerFrame(t *testing.T, frames chan model.PeerSendFrame) model.PeerSendFrame {
	t.Helper()
	select {
	case frame := <-frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a forwarded bundle")
		return model.PeerSendFrame{}
	}
}

func TestClientSendMessages(t *testing.T) {
	url, frames := newPeerServer(t)

	client := NewClient("peer-east", url, "local-relay-id")
	defer client.Close()

	bundle := &model.IncomingMessageList{
		Relay:     "peer-east",
		Timestamp: 1700000000000,
		Messages: []model.IncomingMessage{
			{Type: model.SignalTypeCiphertext, DestinationDeviceID: 1, Body: "Y2lwaGVydGV4dA=="},
		},
	}
	if err := client.SendMessages("+14150000000", 1, "+14151111111", bundle); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frame := nextPeerFrame(t, frames)
	if frame.Type != model.FrameTypePeerSend {
		t.Errorf("expected peer_send, got %s", frame.Type)
	}
	if frame.Source != "+14150000000" || frame.SourceDevice != 1 || frame.Destination != "+14151111111" {
		t.Errorf("addressing lost in transit: %+v", frame)
	}
	if frame.Messages == nil || len(frame.Messages.Messages) != 1 {
		t.Fatalf("bundle not forwarded verbatim: %+v", frame.Messages)
	}
	if frame.Messages.Messages[0].Body != "Y2lwaGVydGV4dA==" {
		t.Error("message body altered in transit")
	}
}

func TestClientReusesConnection(t *testing.T) {
	url, frames := newPeerServer(t)

	client := NewClient("peer-east", url, "local-relay-id")
	defer client.Close()

	bundle := &model.IncomingMessageList{Messages: []model.IncomingMessage{{DestinationDeviceID: 1}}}
	for i := 0; i < 3; i++ {
		if err := client.SendMessages("+14150000000", 1, "+14151111111", bundle); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		nextPeerFrame(t, frames)
	}
}

func TestClientDialFailure(t *testing.T) {
	client := NewClient("peer-east", "ws://127.0.0.1:1/federation", "local-relay-id")
	defer client.Close()

	bundle := &model.IncomingMessageList{Messages: []model.IncomingMessage{{DestinationDeviceID: 1}}}
	if err := client.SendMessages("+14150000000", 1, "+14151111111", bundle); err == nil {
		t.Error("expected dial failure")
	}
}

func TestManagerRelayUnknownPeer(t *testing.T) {
	manager := NewClientManager("local-relay-id")
	defer manager.Stop()

	bundle := &model.IncomingMessageList{}
	err := manager.Relay("peer-missing", "+14150000000", 1, "+14151111111", bundle)
	if !xerrors.Is(err, ErrNoSuchPeer) {
		t.Errorf("expected ErrNoSuchPeer, got %v", err)
	}
}

func TestManagerRelayKnownPeer(t *testing.T) {
	url, frames := newPeerServer(t)

	manager := NewClientManager("local-relay-id")
	defer manager.Stop()
	manager.AddPeer("peer-east", url)

	bundle := &model.IncomingMessageList{Messages: []model.IncomingMessage{{DestinationDeviceID: 1}}}
	if err := manager.Relay("peer-east", "+14150000000", 2, "+14151111111", bundle); err != nil {
		t.Fatalf("relay failed: %v", err)
	}

	frame := nextPeerFrame(t, frames)
	if frame.SourceDevice != 2 {
		t.Errorf("expected source device 2, got %d", frame.SourceDevice)
	}
}
