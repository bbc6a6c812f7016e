package push

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/metrics"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// State is the connection state of the reliability channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

const (
	// ReconnectDelay is the fixed delay between connection attempts. Retries
	// are unbounded: giving up means a total push-delivery outage.
	ReconnectDelay = 1 * time.Second

	// DefaultMaxDeliveryAttempts bounds automatic resubmits after transient
	// relay errors. Reconnect replay does not count against it.
	DefaultMaxDeliveryAttempts = 3

	// DefaultPendingMaxAge is how long a push may sit unacknowledged before
	// the sweeper drops it. A relay that silently eats a frame must not leak
	// a pending record forever.
	DefaultPendingMaxAge = 10 * time.Minute

	// DefaultSweepInterval is how often the pending sweeper runs.
	DefaultSweepInterval = 1 * time.Minute

	sendBufferSize = 256
)

// UnregisteredHandler is invoked when the relay reports a destination token
// as permanently invalid.
type UnregisteredHandler func(number string, deviceID uint64, token string)

// pendingPush is one outstanding push awaiting acknowledgment.
type pendingPush struct {
	Number     string
	DeviceID   uint64
	Token      string
	Data       model.PushData
	Attempts   int
	EnqueuedAt time.Time
}

// ChannelConfig tunes a reliability channel.
type ChannelConfig struct {
	MaxDeliveryAttempts int
	PendingMaxAge       time.Duration
	SweepInterval       time.Duration
}

// DefaultChannelConfig returns the production defaults.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		MaxDeliveryAttempts: DefaultMaxDeliveryAttempts,
		PendingMaxAge:       DefaultPendingMaxAge,
		SweepInterval:       DefaultSweepInterval,
	}
}

// Channel owns one persistent connection to a push relay and the mapping of
// correlation id to outstanding push. Sends are fire-and-forget: delivery
// outcomes are observed through metrics and the unregistered handler. A
// single background task reads inbound frames serially; senders only touch
// the pending map, never the connection.
type Channel struct {
	name   string
	dial   Dialer
	config ChannelConfig

	onUnregistered UnregisteredHandler

	mu       sync.Mutex
	pending  map[string]*pendingPush
	conn     RelayConn     // current connection; nil while disconnected
	sendCh   chan []byte   // per-connection outbound queue; nil while disconnected
	connDown chan struct{} // closed when the current connection's writer has exited

	state atomic.Int32

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewChannel creates a reliability channel. name is used for logging only.
func NewChannel(name string, dial Dialer, config ChannelConfig) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		name:    name,
		dial:    dial,
		config:  config,
		pending: make(map[string]*pendingPush),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// SetUnregisteredHandler installs the hook invoked on permanent token
// failures. Must be called before Start.
func (c *Channel) SetUnregisteredHandler(h UnregisteredHandler) {
	c.onUnregistered = h
}

// Start launches the connection loop and the pending sweeper.
func (c *Channel) Start() {
	go c.run()
	go c.sweepLoop()
}

// Stop shuts the channel down. In-flight pushes are dropped; the relay
// protocol is not durable either.
func (c *Channel) Stop() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close() // unblocks the frame reader
	}
	c.mu.Unlock()
	<-c.stopped
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// PendingCount returns the number of unacknowledged pushes.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Send enqueues one push. If the connection is down the push is held in the
// pending map and transmitted on the next successful (re-)connection; it is
// never dropped at enqueue time.
func (c *Channel) Send(number string, deviceID uint64, token string, data model.PushData) {
	c.submit(newCorrelationID(), &pendingPush{
		Number:     number,
		DeviceID:   deviceID,
		Token:      token,
		Data:       data,
		EnqueuedAt: time.Now(),
	})
}

func newCorrelationID() string {
	return "m-" + uuid.New().String()
}

// submit records the push as pending and, when connected, queues its frame on
// the connection's send path. Insertion happens before transmission so an ack
// can never race ahead of its record.
func (c *Channel) submit(id string, p *pendingPush) {
	frame, err := json.Marshal(model.PushFrame{
		To:        p.Token,
		MessageID: id,
		Data:      p.Data,
	})
	if err != nil {
		log.Printf("push: %s: failed to marshal frame: %v", c.name, err)
		metrics.IncrementPushFailure()
		return
	}

	c.mu.Lock()
	c.pending[id] = p
	n := len(c.pending)
	sendCh := c.sendCh
	connDown := c.connDown
	c.mu.Unlock()
	metrics.SetPushPending(n)

	if sendCh == nil {
		// Not connected; the record rides the next reconnect replay.
		return
	}
	// Block rather than drop when the queue is full: the writer drains it
	// concurrently, and a dying connection releases waiters via connDown, at
	// which point the record rides the next reconnect replay.
	select {
	case sendCh <- frame:
	case <-connDown:
	case <-c.ctx.Done():
	}
}

// remove deletes a pending record and returns it, or nil if the correlation
// id is unknown (already resolved or replayed).
func (c *Channel) remove(id string) *pendingPush {
	c.mu.Lock()
	p := c.pending[id]
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()
	metrics.SetPushPending(n)
	return p
}

// run drives the Disconnected -> Connecting -> Connected -> Draining cycle
// until Stop.
func (c *Channel) run() {
	defer close(c.stopped)
	defer c.state.Store(int32(StateDisconnected))

	for {
		c.state.Store(int32(StateConnecting))
		conn := c.connect()
		if conn == nil {
			return
		}

		sendCh := make(chan []byte, sendBufferSize)
		connDown := make(chan struct{})
		stopWriter := make(chan struct{})

		c.mu.Lock()
		if c.ctx.Err() != nil {
			// Stop ran while connect was completing and found no connection
			// to close, so close this one here.
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.sendCh = sendCh
		c.connDown = connDown
		c.mu.Unlock()
		c.state.Store(int32(StateConnected))
		metrics.IncrementPushReconnects()
		log.Printf("push: %s: connected", c.name)

		// The writer must be consuming before the replay starts, or a replay
		// set larger than the queue would stall.
		go func() {
			c.writeLoop(conn, sendCh, stopWriter)
			close(connDown)
		}()
		c.replayPending()
		c.readLoop(conn)
		close(stopWriter)
		<-connDown

		c.mu.Lock()
		c.conn = nil
		c.sendCh = nil
		c.connDown = nil
		c.mu.Unlock()
		conn.Close() // close errors are irrelevant at this point

		select {
		case <-c.ctx.Done():
			return
		default:
		}
	}
}

// connect blocks until a connection is established or the channel is
// stopped, retrying on a fixed delay.
func (c *Channel) connect() RelayConn {
	for {
		conn, err := c.dial(c.ctx)
		if err == nil {
			return conn
		}
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}
		log.Printf("push: %s: connect failed: %v (retry in %v)", c.name, err, ReconnectDelay)
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(ReconnectDelay):
		}
	}
}

// replayPending atomically drains every outstanding record and re-submits it
// as a fresh send with a new correlation id. At-least-once across reconnects;
// clients deduplicate by content and timestamp.
func (c *Channel) replayPending() {
	c.mu.Lock()
	outstanding := c.pending
	c.pending = make(map[string]*pendingPush)
	c.mu.Unlock()

	if len(outstanding) == 0 {
		return
	}
	log.Printf("push: %s: replaying %d pending pushes", c.name, len(outstanding))
	for _, p := range outstanding {
		metrics.IncrementPushReplayed()
		c.submit(newCorrelationID(), p)
	}
}

// writeLoop is the single writer for one connection.
func (c *Channel) writeLoop(conn RelayConn, sendCh chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-sendCh:
			var raw json.RawMessage = frame
			if err := conn.WriteJSON(&raw); err != nil {
				log.Printf("push: %s: write error: %v", c.name, err)
				conn.Close() // force the reader off the dead connection
				return
			}
		}
	}
}

// readLoop serially dispatches inbound frames until the connection fails or
// the relay announces a drain.
func (c *Channel) readLoop(conn RelayConn) {
	for {
		var frame model.RelayInboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("push: %s: read error: %v", c.name, err)
			}
			return
		}
		if c.dispatch(&frame) {
			return
		}
	}
}

// dispatch handles one inbound frame. Returns true when the connection
// should be cycled.
func (c *Channel) dispatch(frame *model.RelayInboundFrame) (drain bool) {
	if frame.IsUpstream() {
		c.handleUpstream(frame)
		return false
	}

	switch frame.MessageType {
	case model.RelayFrameAck:
		c.handleAck(frame)
	case model.RelayFrameNack:
		c.handleNack(frame)
	case model.RelayFrameReceipt:
		log.Printf("push: %s: delivery receipt for %s", c.name, frame.MessageID)
	case model.RelayFrameControl:
		if frame.ControlType == model.RelayControlConnectionDraining {
			log.Printf("push: %s: relay connection draining, reconnecting", c.name)
			c.state.Store(int32(StateDraining))
			return true
		}
		log.Printf("push: %s: unknown control message %q", c.name, frame.ControlType)
	default:
		log.Printf("push: %s: unknown frame type %q", c.name, frame.MessageType)
	}
	return false
}

// handleAck resolves a push as delivered-to-relay.
func (c *Channel) handleAck(frame *model.RelayInboundFrame) {
	if p := c.remove(frame.MessageID); p != nil {
		metrics.IncrementPushSuccess()
	}
}

// handleNack classifies the relay's error code and resolves the push.
func (c *Channel) handleNack(frame *model.RelayInboundFrame) {
	switch frame.Error {
	case model.RelayErrBadRegistration, model.RelayErrDeviceUnregistered:
		c.handleUnregistered(frame)
	case model.RelayErrInternalServerError, model.RelayErrServiceUnavailable:
		c.handleServerFailure(frame)
	case model.RelayErrInvalidJSON, model.RelayErrQuotaExceeded:
		c.handleClientFailure(frame)
	case "":
		log.Printf("push: %s: nack with empty error code for %s", c.name, frame.MessageID)
		c.remove(frame.MessageID)
	default:
		log.Printf("push: %s: unknown nack code %q for %s, dropping", c.name, frame.Error, frame.MessageID)
		if c.remove(frame.MessageID) != nil {
			metrics.IncrementPushFailure()
		}
	}
}

// handleUnregistered drops the push and clears the dead token. No retry: the
// device is gone until it re-registers.
func (c *Channel) handleUnregistered(frame *model.RelayInboundFrame) {
	p := c.remove(frame.MessageID)
	if p == nil {
		return
	}
	metrics.IncrementPushUnregistered()
	log.Printf("push: %s: device unregistered %s.%d", c.name, p.Number, p.DeviceID)
	if c.onUnregistered != nil {
		c.onUnregistered(p.Number, p.DeviceID, p.Token)
	}
}

// handleServerFailure resubmits the identical payload under a fresh
// correlation id, up to the attempt bound.
func (c *Channel) handleServerFailure(frame *model.RelayInboundFrame) {
	p := c.remove(frame.MessageID)
	if p == nil {
		return
	}
	if p.Attempts+1 >= c.config.MaxDeliveryAttempts {
		metrics.IncrementPushFailure()
		log.Printf("push: %s: dropping %s.%d after %d attempts (%s)",
			c.name, p.Number, p.DeviceID, p.Attempts+1, frame.Error)
		return
	}
	p.Attempts++
	metrics.IncrementPushRetries()
	c.submit(newCorrelationID(), p)
}

// handleClientFailure drops the push: the payload as constructed cannot
// succeed.
func (c *Channel) handleClientFailure(frame *model.RelayInboundFrame) {
	if p := c.remove(frame.MessageID); p != nil {
		metrics.IncrementPushFailure()
		log.Printf("push: %s: unrecoverable error %s for %s.%d", c.name, frame.Error, p.Number, p.DeviceID)
	}
}

// handleUpstream acknowledges a device-originated message so the relay stops
// redelivering it. The payload itself is handled elsewhere.
func (c *Channel) handleUpstream(frame *model.RelayInboundFrame) {
	ack, err := json.Marshal(model.RelayAckFrame{
		MessageType: model.RelayFrameAck,
		To:          frame.From,
		MessageID:   frame.MessageID,
	})
	if err != nil {
		return
	}
	c.mu.Lock()
	sendCh := c.sendCh
	c.mu.Unlock()
	if sendCh == nil {
		return
	}
	select {
	case sendCh <- ack:
	default:
		log.Printf("push: %s: send queue full, dropping upstream ack", c.name)
	}
}

// sweepLoop drops pending records that have outlived PendingMaxAge.
func (c *Channel) sweepLoop() {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepPending(time.Now())
		}
	}
}

func (c *Channel) sweepPending(now time.Time) {
	var expired int
	c.mu.Lock()
	for id, p := range c.pending {
		if now.Sub(p.EnqueuedAt) > c.config.PendingMaxAge {
			delete(c.pending, id)
			expired++
		}
	}
	n := len(c.pending)
	c.mu.Unlock()

	if expired > 0 {
		metrics.SetPushPending(n)
		for i := 0; i < expired; i++ {
			metrics.IncrementPushExpired()
			metrics.IncrementPushFailure()
		}
		log.Printf("push: %s: swept %d pushes never acknowledged by the relay", c.name, expired)
	}
}
