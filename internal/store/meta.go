// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func metaKey(key string) []byte {
	return []byte(prefixMeta + key)
}

func lastSyncKey(collection string) string {
	return "lastSync_" + collection
}

func initialSyncKey(collection string) string {
	return "initialSync_" + collection
}

func timeValue(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

// GetMeta returns a metadata value. ErrNotFound if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	var val string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		val = string(b)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return val, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(key), []byte(value))
	}); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteMeta(ctx context.Context, key string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(key))
	})
}

// LastSync returns when the pull path last wrote collection, or the zero
// time if it never has.
func (s *Store) LastSync(ctx context.Context, collection string) (time.Time, error) {
	v, err := s.GetMeta(ctx, lastSyncKey(collection))
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lastSync for %s: %w", collection, err)
	}
	return t, nil
}

// InitialSyncDone reports whether the bulk pull of collection completed.
func (s *Store) InitialSyncDone(ctx context.Context, collection string) (bool, error) {
	v, err := s.GetMeta(ctx, initialSyncKey(collection))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetInitialSync records (or clears) the initial-sync-completed flag.
func (s *Store) SetInitialSync(ctx context.Context, collection string, done bool) error {
	if !done {
		return s.deleteMeta(ctx, initialSyncKey(collection))
	}
	return s.SetMeta(ctx, initialSyncKey(collection), "true")
}
