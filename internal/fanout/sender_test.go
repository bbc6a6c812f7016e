package fanout

import (
	"context"
	"encoding/base64"
	"testing"

	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/federation"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/push"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/store"
)

type memAccountStore struct {
	accounts map[string]*model.Account
}

func newMemAccountStore(accounts ...*model.Account) *memAccountStore {
	s := &memAccountStore{accounts: make(map[string]*model.Account)}
	for _, a := range accounts {
		s.accounts[a.Number] = a
	}
	return s
}

func (s *memAccountStore) Open() error  { return nil }
func (s *memAccountStore) Close() error { return nil }

func (s *memAccountStore) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	account, ok := s.accounts[number]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *memAccountStore) GetDevice(ctx context.Context, number string, deviceID uint64) (*model.Device, error) {
	account, err := s.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	device := account.Device(deviceID)
	if device == nil {
		return nil, store.ErrDeviceNotFound
	}
	return device, nil
}

func (s *memAccountStore) UpdateAccount(ctx context.Context, account *model.Account) error {
	s.accounts[account.Number] = account
	return nil
}

type routedSignal struct {
	deviceID uint64
	signal   *model.OutgoingMessageSignal
}

// fakeRouter records routed signals and can fail per device.
type fakeRouter struct {
	routed []routedSignal
	errFor map[uint64]error
}

func (f *fakeRouter) Route(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error {
	if err := f.errFor[device.ID]; err != nil {
		return err
	}
	f.routed = append(f.routed, routedSignal{device.ID, signal})
	return nil
}

type relayCall struct {
	peer         string
	source       string
	sourceDevice uint64
	destination  string
	messages     *model.IncomingMessageList
}

type fakeRelay struct {
	calls []relayCall
	err   error
}

func (f *fakeRelay) Relay(peerName, source string, sourceDevice uint64, destination string, messages *model.IncomingMessageList) error {
	f.calls = append(f.calls, relayCall{peerName, source, sourceDevice, destination, messages})
	return f.err
}

func destinationAccount() *model.Account {
	return &model.Account{
		Number: "+14151111111",
		Devices: []*model.Device{
			{ID: 1, RegistrationID: 100, FCMToken: "tok-a"},
			{ID: 2, RegistrationID: 200, FetchesMessages: true},
		},
	}
}

func sourceAccount() *model.Account {
	return &model.Account{
		Number: "+14150000000",
		Devices: []*model.Device{
			{ID: 1, RegistrationID: 11, FCMToken: "tok-src"},
		},
	}
}

func fullBundle() *model.IncomingMessageList {
	body := base64.StdEncoding.EncodeToString([]byte("ciphertext"))
	return &model.IncomingMessageList{
		Timestamp: 1700000000000,
		Messages: []model.IncomingMessage{
			{Type: model.SignalTypeCiphertext, DestinationDeviceID: 1, DestinationRegistrationID: 100, Body: body},
			{Type: model.SignalTypeCiphertext, DestinationDeviceID: 2, DestinationRegistrationID: 200, Body: body},
		},
	}
}

func TestSendMessageFanOut(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle())
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(router.routed) != 2 {
		t.Fatalf("expected 2 routed signals, got %d", len(router.routed))
	}

	signal := router.routed[0].signal
	if signal.Source != "+14150000000" || signal.SourceDevice != 1 {
		t.Errorf("signal misattributes the sender: %+v", signal)
	}
	if signal.Timestamp != 1700000000000 {
		t.Errorf("sender timestamp not preserved: %d", signal.Timestamp)
	}
	if string(signal.Message) != "ciphertext" {
		t.Errorf("body not decoded: %q", signal.Message)
	}
	if signal.Type != model.SignalTypeCiphertext {
		t.Errorf("signal type not preserved: %d", signal.Type)
	}
}

func TestSendMessageDefaultsTimestamp(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	bundle := fullBundle()
	bundle.Timestamp = 0
	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if router.routed[0].signal.Timestamp == 0 {
		t.Error("zero timestamp not replaced with receipt time")
	}
}

func TestSendMessageUnknownDestination(t *testing.T) {
	sender := NewSender(newMemAccountStore(), &fakeRouter{}, &fakeRelay{})

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14159999999", fullBundle())
	if !xerrors.Is(err, ErrNoSuchUser) {
		t.Errorf("expected ErrNoSuchUser, got %v", err)
	}
}

func TestSendMessageInactiveDestination(t *testing.T) {
	// The master device has no channel at all, so the account is effectively
	// nonexistent.
	account := &model.Account{
		Number: "+14151111111",
		Devices: []*model.Device{
			{ID: 1, RegistrationID: 100},
		},
	}
	sender := NewSender(newMemAccountStore(account), &fakeRouter{}, &fakeRelay{})

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle())
	if !xerrors.Is(err, ErrNoSuchUser) {
		t.Errorf("expected ErrNoSuchUser, got %v", err)
	}
}

func TestSendMessageRejectsIncompleteBundle(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	bundle := fullBundle()
	bundle.Messages = bundle.Messages[:1]

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle)
	var mismatch *MismatchedDevicesError
	if !xerrors.As(err, &mismatch) {
		t.Fatalf("expected MismatchedDevicesError, got %v", err)
	}
	if len(router.routed) != 0 {
		t.Error("rejected bundle must not deliver anything")
	}
}

func TestSendMessageRejectsStaleBundle(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	bundle := fullBundle()
	bundle.Messages[0].DestinationRegistrationID = 42

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle)
	var stale *StaleDevicesError
	if !xerrors.As(err, &stale) {
		t.Fatalf("expected StaleDevicesError, got %v", err)
	}
	if len(router.routed) != 0 {
		t.Error("rejected bundle must not deliver anything")
	}
}

func TestSendMessageCorrectedResendSucceeds(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	bundle := fullBundle()
	bundle.Messages = bundle.Messages[:1]
	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle); err == nil {
		t.Fatal("incomplete bundle accepted")
	}

	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle()); err != nil {
		t.Fatalf("corrected resend rejected: %v", err)
	}
	if len(router.routed) != 2 {
		t.Errorf("expected 2 routed signals after resend, got %d", len(router.routed))
	}
}

func TestSendMessageMasterNotRegisteredFailsSend(t *testing.T) {
	router := &fakeRouter{errFor: map[uint64]error{1: push.ErrNotPushRegistered}}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle())
	if !xerrors.Is(err, ErrNoSuchUser) {
		t.Errorf("expected ErrNoSuchUser for unreachable master, got %v", err)
	}
}

func TestSendMessageSecondaryNotRegisteredSkipped(t *testing.T) {
	router := &fakeRouter{errFor: map[uint64]error{2: push.ErrNotPushRegistered}}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle()); err != nil {
		t.Fatalf("secondary device failure must not fail the send: %v", err)
	}
	if len(router.routed) != 1 || router.routed[0].deviceID != 1 {
		t.Errorf("expected delivery to device 1 only, got %+v", router.routed)
	}
}

func TestSendMessageMasterTransientPropagates(t *testing.T) {
	failure := xerrors.Errorf("handoff: %w", push.ErrTransientPushFailure)
	router := &fakeRouter{errFor: map[uint64]error{1: failure}}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle())
	if !xerrors.Is(err, push.ErrTransientPushFailure) {
		t.Errorf("expected transient failure to propagate, got %v", err)
	}
}

func TestSendMessageSecondaryTransientSkipped(t *testing.T) {
	failure := xerrors.Errorf("handoff: %w", push.ErrTransientPushFailure)
	router := &fakeRouter{errFor: map[uint64]error{2: failure}}
	sender := NewSender(newMemAccountStore(destinationAccount()), router, &fakeRelay{})

	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", fullBundle()); err != nil {
		t.Fatalf("secondary transient failure must not fail the send: %v", err)
	}
}

func TestSendMessageRelaySteering(t *testing.T) {
	relay := &fakeRelay{}
	sender := NewSender(newMemAccountStore(), &fakeRouter{}, relay)

	bundle := fullBundle()
	bundle.Relay = "peer-east"
	if err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle); err != nil {
		t.Fatalf("relay send failed: %v", err)
	}

	if len(relay.calls) != 1 {
		t.Fatalf("expected 1 relay call, got %d", len(relay.calls))
	}
	call := relay.calls[0]
	if call.peer != "peer-east" || call.source != "+14150000000" || call.destination != "+14151111111" {
		t.Errorf("unexpected relay call: %+v", call)
	}
	if call.messages != bundle {
		t.Error("bundle must be forwarded verbatim")
	}
}

func TestSendMessageUnknownPeer(t *testing.T) {
	relay := &fakeRelay{err: federation.ErrNoSuchPeer}
	sender := NewSender(newMemAccountStore(), &fakeRouter{}, relay)

	bundle := fullBundle()
	bundle.Relay = "peer-unknown"
	err := sender.SendMessage(context.Background(), sourceAccount(), 1, "+14151111111", bundle)
	if !xerrors.Is(err, ErrNoSuchUser) {
		t.Errorf("expected ErrNoSuchUser for unknown peer, got %v", err)
	}
}

func TestDeliverToDevice(t *testing.T) {
	router := &fakeRouter{}
	sender := NewSender(newMemAccountStore(), router, &fakeRelay{})

	account := destinationAccount()
	device := account.Devices[1]
	signal := &model.OutgoingMessageSignal{Type: model.SignalTypeReceipt, Source: "+14150000000", SourceDevice: 1}

	if err := sender.DeliverToDevice(account, device, signal); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if len(router.routed) != 1 || router.routed[0].deviceID != 2 {
		t.Errorf("expected signal routed to device 2, got %+v", router.routed)
	}
}
