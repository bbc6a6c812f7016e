package store

import (
	"context"
	"path/filepath"
	"testing"

	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

func openTestStore(t *testing.T) *BBoltAccountStore {
	t.Helper()
	s := NewBBoltAccountStore(filepath.Join(t.TempDir(), "accounts.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	account := &model.Account{
		Number: "+14151111111",
		Devices: []*model.Device{
			{ID: 1, RegistrationID: 100, FCMToken: "tok-a"},
			{ID: 2, RegistrationID: 200, FetchesMessages: true},
		},
	}
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("failed to store account: %v", err)
	}

	got, err := s.GetAccount(ctx, "+14151111111")
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if got.Number != account.Number {
		t.Errorf("expected number %s, got %s", account.Number, got.Number)
	}
	if len(got.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(got.Devices))
	}
	if got.Devices[0].FCMToken != "tok-a" {
		t.Errorf("device token not preserved: %q", got.Devices[0].FCMToken)
	}
	if !got.Devices[1].FetchesMessages {
		t.Error("fetches_messages not preserved")
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetAccount(context.Background(), "+14159999999")
	if !xerrors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetDevice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	account := &model.Account{
		Number: "+14151111111",
		Devices: []*model.Device{
			{ID: 1, RegistrationID: 100, APNSToken: "tok-apns"},
		},
	}
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("failed to store account: %v", err)
	}

	device, err := s.GetDevice(ctx, "+14151111111", 1)
	if err != nil {
		t.Fatalf("failed to load device: %v", err)
	}
	if device.APNSToken != "tok-apns" {
		t.Errorf("expected tok-apns, got %q", device.APNSToken)
	}

	_, err = s.GetDevice(ctx, "+14151111111", 9)
	if !xerrors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestUpdateAccountReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	account := &model.Account{
		Number:  "+14151111111",
		Devices: []*model.Device{{ID: 1, FCMToken: "tok-old"}},
	}
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("failed to store account: %v", err)
	}

	account.Devices[0].FCMToken = ""
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("failed to update account: %v", err)
	}

	device, err := s.GetDevice(ctx, "+14151111111", 1)
	if err != nil {
		t.Fatalf("failed to load device: %v", err)
	}
	if device.FCMToken != "" {
		t.Errorf("cleared token persisted as %q", device.FCMToken)
	}
}

func TestUpdateAccountRequiresNumber(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateAccount(context.Background(), &model.Account{}); err == nil {
		t.Error("expected error for account without number")
	}
}

func TestAccountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")
	ctx := context.Background()

	s := NewBBoltAccountStore(path)
	if err := s.Open(); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	account := &model.Account{
		Number:  "+14151111111",
		Devices: []*model.Device{{ID: 1, FetchesMessages: true}},
	}
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("failed to store account: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	s = NewBBoltAccountStore(path)
	if err := s.Open(); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	got, err := s.GetAccount(ctx, "+14151111111")
	if err != nil {
		t.Fatalf("failed to load account after reopen: %v", err)
	}
	if len(got.Devices) != 1 || !got.Devices[0].FetchesMessages {
		t.Errorf("account not preserved across reopen: %+v", got)
	}
}
