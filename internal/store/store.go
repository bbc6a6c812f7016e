package store

import (
	"context"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// AccountStore defines the interface for account and device persistence. The
// delivery core reads accounts for routing decisions and writes back single
// device-field mutations (push token clearing). Concurrent updates are
// last-write-wins; a cleared token may be restored by a racing
// re-registration, which callers must tolerate.
type AccountStore interface {
	// Open opens the store.
	Open() error

	// Close closes the store.
	Close() error

	// GetAccount retrieves an account by identity. Returns ErrAccountNotFound
	// if the identity is unknown.
	GetAccount(ctx context.Context, number string) (*model.Account, error)

	// GetDevice retrieves one device of an account. Returns
	// ErrDeviceNotFound if the account exists but the device does not.
	GetDevice(ctx context.Context, number string, deviceID uint64) (*model.Device, error)

	// UpdateAccount persists the account, replacing the stored record.
	UpdateAccount(ctx context.Context, account *model.Account) error
}
