package push

import (
	"context"
	"encoding/base64"
	"log"

	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
	"github.com/smartnetguru/Securecom-Messaging-Server/internal/store"
)

var (
	// ErrNotPushRegistered means the device has no viable delivery channel.
	ErrNotPushRegistered = xerrors.New("device is not push registered")

	// ErrTransientPushFailure means the selected channel failed at hand-off.
	ErrTransientPushFailure = xerrors.New("transient push failure")
)

// PushChannel is the fire-and-forget mobile push hand-off. *Channel
// satisfies it.
type PushChannel interface {
	Send(number string, deviceID uint64, token string, data model.PushData)
}

// LocalSender delivers a signal to a device connected on the local
// streaming channel.
type LocalSender interface {
	Deliver(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error
}

// Router selects exactly one transport per target device. The order is a
// priority policy, not failure fallback: a failing channel is never
// substituted for the next one on the same send.
type Router struct {
	fcm      PushChannel
	apns     PushChannel
	local    LocalSender
	accounts store.AccountStore
}

// NewRouter creates a router over the two mobile push channels and the local
// streaming channel.
func NewRouter(fcm, apns PushChannel, local LocalSender, accounts store.AccountStore) *Router {
	return &Router{fcm: fcm, apns: apns, local: local, accounts: accounts}
}

// Route hands the signal to the device's transport. First match wins:
// FCM token, APNS token, local streaming, otherwise ErrNotPushRegistered.
func (r *Router) Route(account *model.Account, device *model.Device, signal *model.OutgoingMessageSignal) error {
	data := model.PushData{
		Receipt: signal.IsReceipt(),
		Body:    base64.StdEncoding.EncodeToString(signal.Message),
	}

	switch {
	case device.FCMToken != "":
		r.fcm.Send(account.Number, device.ID, device.FCMToken, data)
	case device.APNSToken != "":
		r.apns.Send(account.Number, device.ID, device.APNSToken, data)
	case device.FetchesMessages:
		if err := r.local.Deliver(account, device, signal); err != nil {
			return xerrors.Errorf("local delivery to %s.%d: %w", account.Number, device.ID, ErrTransientPushFailure)
		}
	default:
		return ErrNotPushRegistered
	}
	return nil
}

// ClearToken removes a dead push token from the device and persists the
// change. Wired into the channels' unregistered handlers. A concurrent
// re-registration may overwrite this; last write wins and the core
// tolerates it.
func (r *Router) ClearToken(number string, deviceID uint64, token string) {
	ctx := context.Background()

	account, err := r.accounts.GetAccount(ctx, number)
	if err != nil {
		log.Printf("push: clear token: account %s: %v", number, err)
		return
	}
	device := account.Device(deviceID)
	if device == nil {
		return
	}

	cleared := false
	if device.FCMToken == token {
		device.FCMToken = ""
		cleared = true
	}
	if device.APNSToken == token {
		device.APNSToken = ""
		cleared = true
	}
	if !cleared {
		// Token already rotated by a newer registration; nothing to clear.
		return
	}

	if err := r.accounts.UpdateAccount(ctx, account); err != nil {
		log.Printf("push: clear token: update %s: %v", number, err)
		return
	}
	log.Printf("push: cleared stale token for %s.%d", number, deviceID)
}
