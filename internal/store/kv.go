package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	keyInstallationID = "installation_id"
	keyPermissions    = "permissions"
)

// SessionRemote is the session key holding the remote backend token
const SessionRemote = "remote"

// Permissions mirrors the runtime permissions the patient grants during onboarding
type Permissions struct {
	ExactAlarms   bool `json:"exact_alarms"`
	Notifications bool `json:"notifications"`
	HealthData    bool `json:"health_data"`
	Bluetooth     bool `json:"bluetooth"`
}

// ==================== KV Methods (BadgerDB) ====================

// SetKV stores a key-value pair
func (s *Store) SetKV(key string, value []byte) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("kv:"+key), value)
	})
}

// GetKV retrieves a value by key. A missing key yields nil, nil.
func (s *Store) GetKV(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("kv:" + key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

// DeleteKV removes key
func (s *Store) DeleteKV(key string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("kv:" + key))
	})
}

// SetJSON stores v encoded as JSON
func (s *Store) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.SetKV(key, data)
}

// GetJSON decodes the value at key into v. It reports false when the key is absent.
func (s *Store) GetJSON(key string, v interface{}) (bool, error) {
	data, err := s.GetKV(key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// InstallationID returns the identifier this installation's rows are mirrored under,
// creating it on first use
func (s *Store) InstallationID() (string, error) {
	var id string
	err := s.badger.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("kv:" + keyInstallationID))
		if err == nil {
			v, err := item.ValueCopy(nil)
			id = string(v)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id = uuid.NewString()
		return txn.Set([]byte("kv:"+keyInstallationID), []byte(id))
	})
	return id, err
}

// Permissions returns the granted permissions; all are denied until onboarding stores them
func (s *Store) Permissions() (Permissions, error) {
	var p Permissions
	_, err := s.GetJSON(keyPermissions, &p)
	return p, err
}

// SetPermissions stores the granted permissions
func (s *Store) SetPermissions(p Permissions) error {
	return s.SetJSON(keyPermissions, p)
}

// HasPermissions reports whether onboarding ever stored permissions
func (s *Store) HasPermissions() (bool, error) {
	data, err := s.GetKV(keyPermissions)
	return data != nil, err
}

// ==================== Session Methods (BadgerDB) ====================

// SetSession stores session data in BadgerDB. A zero ttl keeps it until deleted.
func (s *Store) SetSession(key string, value []byte, ttl time.Duration) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("session:"+key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// GetSession retrieves session data from BadgerDB. Expired or missing sessions yield nil, nil.
func (s *Store) GetSession(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("session:" + key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

// DeleteSession removes session data
func (s *Store) DeleteSession(key string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("session:" + key))
	})
}
