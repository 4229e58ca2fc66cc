package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"
)

const stateTTL = 10 * time.Minute

var stateBucket = []byte("oauth_states")

// StateStore persists in-flight OAuth states so a callback can be validated
// even after a process restart. Each state is consumable exactly once and
// expires after ten minutes.
type StateStore struct {
	db *bbolt.DB
}

// OpenStateStore opens or creates the bolt file holding OAuth states.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, errBucket := tx.CreateBucketIfNotExists(stateBucket)
		return errBucket
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &StateStore{db: db}, nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// RandomState returns a random URL-safe state token.
func RandomState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw), nil
}

// NewState generates a random state token and stores payload under it.
func (s *StateStore) NewState(payload []byte) (string, error) {
	state, err := RandomState()
	if err != nil {
		return "", err
	}
	if err = s.put(state, payload); err != nil {
		return "", err
	}
	return state, nil
}

func (s *StateStore) put(state string, payload []byte) error {
	expiry := time.Now().Add(stateTTL).Unix()
	value := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(value, uint64(expiry))
	copy(value[8:], payload)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(state), value)
	})
}

// Consume returns the payload stored under state and deletes it. A missing,
// already consumed, or expired state returns ok=false.
func (s *StateStore) Consume(state string) (payload []byte, ok bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		value := bucket.Get([]byte(state))
		if value == nil || len(value) < 8 {
			return nil
		}
		if errDelete := bucket.Delete([]byte(state)); errDelete != nil {
			return errDelete
		}
		expiry := time.Unix(int64(binary.BigEndian.Uint64(value)), 0)
		if time.Now().After(expiry) {
			return nil
		}
		payload = append([]byte(nil), value[8:]...)
		ok = true
		return nil
	})
	return payload, ok, err
}
