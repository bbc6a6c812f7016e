package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

var (
	bucketAccounts = []byte("accounts")

	// ErrAccountNotFound is returned when the identity is unknown.
	ErrAccountNotFound = xerrors.New("account not found")

	// ErrDeviceNotFound is returned when the account has no such device.
	ErrDeviceNotFound = xerrors.New("device not found")
)

// BBoltAccountStore is a bbolt-backed AccountStore.
type BBoltAccountStore struct {
	path string
	db   *bolt.DB
}

// NewBBoltAccountStore creates a store at the given path.
func NewBBoltAccountStore(path string) *BBoltAccountStore {
	return &BBoltAccountStore{path: path}
}

// Open opens the database and creates the accounts bucket.
func (s *BBoltAccountStore) Open() error {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return xerrors.Errorf("failed to open account store: %w", err)
	}
	s.db = db

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAccounts); err != nil {
			return xerrors.Errorf("failed to create bucket %s: %w", string(bucketAccounts), err)
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to initialize account buckets: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BBoltAccountStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetAccount retrieves an account by identity.
func (s *BBoltAccountStore) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	var account *model.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(number))
		if data == nil {
			return ErrAccountNotFound
		}
		account = &model.Account{}
		if err := json.Unmarshal(data, account); err != nil {
			return xerrors.Errorf("failed to decode account %s: %w", number, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetDevice retrieves one device of an account.
func (s *BBoltAccountStore) GetDevice(ctx context.Context, number string, deviceID uint64) (*model.Device, error) {
	account, err := s.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	device := account.Device(deviceID)
	if device == nil {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// UpdateAccount persists the account record, replacing any existing one.
// Last write wins; no field-level merge is attempted.
func (s *BBoltAccountStore) UpdateAccount(ctx context.Context, account *model.Account) error {
	if account.Number == "" {
		return xerrors.New("account number is required")
	}
	data, err := json.Marshal(account)
	if err != nil {
		return xerrors.Errorf("failed to encode account %s: %w", account.Number, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(account.Number), data)
	})
	if err != nil {
		return xerrors.Errorf("failed to store account %s: %w", account.Number, err)
	}
	return nil
}
