package model

import (
	"fmt"
	"sync"
)

// Client is a connected local streaming client (one device's connection).
type Client struct {
	ID       string
	Number   string
	DeviceID uint64
	Conn     interface {
		WriteJSON(v interface{}) error
		ReadJSON(v interface{}) error
		WriteMessage(msgType int, data []byte) error
		Close() error
	}
	Send chan []byte
}

func clientKey(number string, deviceID uint64) string {
	return fmt.Sprintf("%s.%d", number, deviceID)
}

// ClientRegistry tracks connected local streaming clients keyed by
// identity and device id.
type ClientRegistry struct {
	mu     sync.RWMutex
	byKey  map[string]map[*Client]bool
	byConn map[*Client]string
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byKey:  make(map[string]map[*Client]bool),
		byConn: make(map[*Client]string),
	}
}

func (r *ClientRegistry) Register(client *Client) {
	key := clientKey(client.Number, client.DeviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[*Client]bool)
	}
	r.byKey[key][client] = true
	r.byConn[client] = key
}

func (r *ClientRegistry) Unregister(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byConn[client]
	if !ok {
		return
	}
	if clients, ok := r.byKey[key]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(r.byKey, key)
			}
		}
	}
	delete(r.byConn, client)
}

// GetClients returns the connections for one device of an identity.
func (r *ClientRegistry) GetClients(number string, deviceID uint64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var clients []*Client
	if s, ok := r.byKey[clientKey(number, deviceID)]; ok {
		for c := range s {
			clients = append(clients, c)
		}
	}
	return clients
}

// IsOnline reports whether a device has at least one live connection.
func (r *ClientRegistry) IsOnline(number string, deviceID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients, ok := r.byKey[clientKey(number, deviceID)]
	return ok && len(clients) > 0
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
