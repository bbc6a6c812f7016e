package push

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// RelayConn is a single established connection to the push relay.
// *websocket.Conn satisfies it.
type RelayConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer establishes a new authenticated relay connection. Implementations
// block until the connection attempt completes or ctx is cancelled.
type Dialer func(ctx context.Context) (RelayConn, error)

// WebSocketDialer returns a Dialer that connects to a websocket push relay.
// Credentials ride in the request header.
func WebSocketDialer(url string, header http.Header) Dialer {
	return func(ctx context.Context) (RelayConn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
