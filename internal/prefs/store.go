package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Persisted keys.
const (
	KeyRecordingState    = "recording_state"
	KeySaveLocationURI   = "save_location_uri"
	KeyTempScopedURI     = "temp_scoped_uri"
	KeyLastVideoLocation = "last_video_location"

	grantPrefix = "grant:"
)

// PendingPromotionKey is the per-session key of a pending promotion marker.
// Every marker lives under the KeyTempScopedURI prefix.
func PendingPromotionKey(sessionID string) string {
	return KeyTempScopedURI + ":" + sessionID
}

// Store is the daemon's key/value preference store.
// Values are read straight from badger on every call; nothing is cached.
type Store struct {
	db *badger.DB
}

func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open preference store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory returns a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory preference store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GetString returns "" for a missing key.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) PutString(ctx context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete is a no-op for a missing key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes key into v. It reports false when the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.PutString(ctx, key, string(buf))
}

// Grant is a persisted permission on a scoped location handle.
type Grant struct {
	Handle    string    `json:"handle"`
	Write     bool      `json:"write"`
	GrantedAt time.Time `json:"granted_at"`
}

func (s *Store) PutGrant(ctx context.Context, g Grant) error {
	if g.Handle == "" {
		return fmt.Errorf("grant handle is empty")
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	return s.PutJSON(ctx, grantPrefix+g.Handle, g)
}

func (s *Store) RevokeGrant(ctx context.Context, handle string) error {
	return s.Delete(ctx, grantPrefix+handle)
}

// Grant looks up the live grant for handle.
func (s *Store) Grant(ctx context.Context, handle string) (Grant, bool, error) {
	var g Grant
	ok, err := s.GetJSON(ctx, grantPrefix+handle, &g)
	return g, ok, err
}

// HasWriteGrant checks the live grant list, never a cached copy.
func (s *Store) HasWriteGrant(ctx context.Context, handle string) (bool, error) {
	g, ok, err := s.Grant(ctx, handle)
	if err != nil || !ok {
		return false, err
	}
	return g.Write, nil
}

func (s *Store) ListGrants(ctx context.Context) ([]Grant, error) {
	var out []Grant
	err := s.Scan(ctx, grantPrefix, func(key string, val []byte) error {
		var g Grant
		if err := json.Unmarshal(val, &g); err != nil {
			return fmt.Errorf("decode %s: %w", strings.TrimPrefix(key, grantPrefix), err)
		}
		out = append(out, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return out, nil
}

// Scan calls fn for every key starting with prefix, in key order.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
