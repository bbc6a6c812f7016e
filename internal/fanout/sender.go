package fanout

import (
	"context"
	"log"
	"time"

	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/federation"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/metrics"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/push"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/store"
)

// Pusher routes one signal to one device's transport. *push.Router
// satisfies it.
type Pusher interface {
	Route(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error
}

// PeerRelay forwards a bundle verbatim to the named federated peer.
// *federation.ClientManager satisfies it.
type PeerRelay interface {
	Relay(peerName, source string, sourceDevice uint64, destination string, messages *model.IncomingMessageList) error
}

// Sender is the upward-facing surface of the delivery core: full-bundle
// fan-out with validation, and single-device sends.
type Sender struct {
	accounts store.AccountStore
	router   Pusher
	peers    PeerRelay
}

// NewSender creates the fan-out sender.
func NewSender(accounts store.AccountStore, router Pusher, peers PeerRelay) *Sender {
	return &Sender{accounts: accounts, router: router, peers: peers}
}

// SendMessage validates and dispatches a multi-device bundle. The bundle is
// fully accepted or fully rejected: a rejection reports the complete set of
// problems so the sender can correct the bundle and retry.
func (s *Sender) SendMessage(ctx context.Context, source *model.Account, sourceDeviceID uint64, destination string, messages *model.IncomingMessageList) error {
	if messages.Relay != "" {
		return s.sendRelayMessage(source, sourceDeviceID, destination, messages)
	}
	return s.sendLocalMessage(ctx, source, sourceDeviceID, destination, messages)
}

func (s *Sender) sendLocalMessage(ctx context.Context, source *model.Account, sourceDeviceID uint64, destination string, messages *model.IncomingMessageList) error {
	dest, err := s.destinationAccount(ctx, destination)
	if err != nil {
		return err
	}

	if err := validateCompleteDeviceList(dest, messages); err != nil {
		metrics.IncrementFanoutMismatched()
		return err
	}
	if err := validateRegistrationIDs(dest, messages); err != nil {
		metrics.IncrementFanoutStale()
		return err
	}

	timestamp := messages.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	for i := range messages.Messages {
		m := &messages.Messages[i]
		device := dest.Device(m.DestinationDeviceID)
		if device == nil {
			// An inactive leftover id with no active counterpart; the device
			// set already validated, so skip it pending cleanup.
			continue
		}
		signal := buildSignal(source, sourceDeviceID, timestamp, m)
		if err := s.deliver(dest, device, signal); err != nil {
			return err
		}
	}
	return nil
}

// deliver routes one signal and applies master-device escalation: failures
// on the primary device fail the send, failures elsewhere are logged and
// skipped so the caller's next message retries them.
func (s *Sender) deliver(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error {
	err := s.router.Route(account, device, signal)
	switch {
	case err == nil:
		return nil
	case xerrors.Is(err, push.ErrNotPushRegistered):
		if device.IsMaster() {
			return ErrNoSuchUser
		}
		log.Printf("fanout: device %s.%d not push registered, skipping", account.Number, device.ID)
		return nil
	case xerrors.Is(err, push.ErrTransientPushFailure):
		if device.IsMaster() {
			return err
		}
		log.Printf("fanout: transient failure for %s.%d, skipping: %v", account.Number, device.ID, err)
		return nil
	default:
		return err
	}
}

func (s *Sender) sendRelayMessage(source *model.Account, sourceDeviceID uint64, destination string, messages *model.IncomingMessageList) error {
	err := s.peers.Relay(messages.Relay, source.Number, sourceDeviceID, destination, messages)
	if err != nil {
		if xerrors.Is(err, federation.ErrNoSuchPeer) {
			return ErrNoSuchUser
		}
		return err
	}
	metrics.IncrementRelayed()
	return nil
}

// DeliverToDevice routes a single signal to one device, for callers that
// already hold the account and device (receipts, single-device sends).
func (s *Sender) DeliverToDevice(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error {
	return s.router.Route(account, device, signal)
}

func (s *Sender) destinationAccount(ctx context.Context, destination string) (*model.Account, error) {
	account, err := s.accounts.GetAccount(ctx, destination)
	if err != nil {
		if xerrors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrNoSuchUser
		}
		return nil, err
	}
	if !account.IsActive() {
		return nil, ErrNoSuchUser
	}
	return account, nil
}

// buildSignal constructs the immutable per-device delivery unit.
func buildSignal(source *model.Account, sourceDeviceID uint64, timestamp int64, m *model.IncomingMessage) *model.OutgoingMessageSignal {
	return &model.OutgoingMessageSignal{
		Type:         m.Type,
		Source:       source.Number,
		SourceDevice: sourceDeviceID,
		Timestamp:    timestamp,
		Message:      m.DecodedBody(),
		Relay:        source.Relay,
	}
}
