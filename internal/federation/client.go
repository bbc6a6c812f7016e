package federation

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// ProtocolVersion is the relay-to-relay protocol version.
const ProtocolVersion = "1.0"

// ErrNoSuchPeer means no relay client is configured under that name.
var ErrNoSuchPeer = xerrors.New("no such peer")

// peerConn is one established connection to a peer relay. *websocket.Conn
// satisfies it.
type peerConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Client is a connection to one named federated peer. The connection is
// dialed lazily and re-dialed once per send on write failure; the peer
// re-runs fan-out validation on everything we forward, so the client carries
// no device-list knowledge of its own.
type Client struct {
	name    string
	url     string
	relayID string

	mu   sync.Mutex
	conn peerConn
}

// NewClient creates a client for the peer at the given websocket URL.
// relayID identifies this relay in the handshake.
func NewClient(name, url, relayID string) *Client {
	return &Client{name: name, url: url, relayID: relayID}
}

// SendMessages forwards a sender's bundle verbatim to the peer.
func (c *Client) SendMessages(source string, sourceDevice uint64, destination string, messages *model.IncomingMessageList) error {
	frame := model.PeerSendFrame{
		Type:         model.FrameTypePeerSend,
		Source:       source,
		SourceDevice: sourceDevice,
		Destination:  destination,
		Messages:     messages,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(); err != nil {
			return xerrors.Errorf("federation: dial peer %s: %w", c.name, err)
		}
	}
	if err := c.conn.WriteJSON(&frame); err != nil {
		// The connection may have gone stale since the last send; cycle it
		// once before giving up.
		c.conn.Close()
		c.conn = nil
		if err := c.connectLocked(); err != nil {
			return xerrors.Errorf("federation: redial peer %s: %w", c.name, err)
		}
		if err := c.conn.WriteJSON(&frame); err != nil {
			c.conn.Close()
			c.conn = nil
			return xerrors.Errorf("federation: send to peer %s: %w", c.name, err)
		}
	}
	return nil
}

// connectLocked dials the peer and completes the hello handshake.
// Caller holds c.mu.
func (c *Client) connectLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	hello := model.PeerHelloFrame{
		Type:    model.FrameTypePeerHello,
		RelayID: c.relayID,
		Version: ProtocolVersion,
	}
	if err := conn.WriteJSON(&hello); err != nil {
		conn.Close()
		return err
	}

	var resp model.PeerHelloFrame
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return err
	}
	if resp.Type != model.FrameTypePeerOK {
		conn.Close()
		return xerrors.Errorf("unexpected handshake response type %q from %s", resp.Type, c.url)
	}

	log.Printf("federation: connected to peer %s (relay_id: %s)", c.name, resp.RelayID)
	c.conn = conn
	return nil
}

// Close drops the connection if one is open.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// ClientManager holds the relay clients for all configured peers.
type ClientManager struct {
	relayID string

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientManager creates an empty manager identifying as relayID.
func NewClientManager(relayID string) *ClientManager {
	return &ClientManager{
		relayID: relayID,
		clients: make(map[string]*Client),
	}
}

// AddPeer registers a named peer endpoint.
func (m *ClientManager) AddPeer(name, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = NewClient(name, url, m.relayID)
}

// GetClient returns the client for a named peer.
func (m *ClientManager) GetClient(name string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	if !ok {
		return nil, ErrNoSuchPeer
	}
	return client, nil
}

// Relay forwards a bundle to the named peer.
func (m *ClientManager) Relay(peerName, source string, sourceDevice uint64, destination string, messages *model.IncomingMessageList) error {
	client, err := m.GetClient(peerName)
	if err != nil {
		return err
	}
	return client.SendMessages(source, sourceDevice, destination, messages)
}

// Stop closes every peer connection.
func (m *ClientManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		client.Close()
	}
}
