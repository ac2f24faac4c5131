// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package store is the local durable store: a BadgerDB database partitioned
// into cached collections and a sync metadata partition. The same database
// also hosts the outbox partition (see package outbox) so that one fsync'd
// write path covers everything a device must not lose.
//
// Key layout:
//
//	col|<collection>|<id>     cached entity (JSON document)
//	meta|<key>                sync metadata (lastSync_<c>, initialSync_<c>, ...)
//
// Writers are serialized per collection. Collections are independent and no
// cross-collection transaction is offered.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// Document is a schema-flexible entity payload.
type Document = map[string]any

// Sync attributes carried on cached entities.
const (
	FieldNeedsSync        = "needsSync"
	FieldCreatedOfflineAt = "createdOfflineAt"
)

const (
	prefixCollection = "col|"
	prefixMeta       = "meta|"
)

var (
	// ErrNotFound is returned when an entity or metadata key does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidName is returned for collection names or ids containing the
	// key separator.
	ErrInvalidName = errors.New("store: invalid collection or id")
)

// Config configures the store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory (tests only).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Compression enables Snappy block compression.
	Compression bool

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// Store is the BadgerDB-backed local store.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool

	// collection name -> *sync.Mutex
	writers sync.Map
}

// Open opens (or creates) the store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.NumCompactors = 2
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Local store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// DB exposes the underlying database to sibling partitions (the outbox).
func (s *Store) DB() *badger.DB {
	return s.db
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// lock serializes writers of one collection.
func (s *Store) lock(collection string) func() {
	m, _ := s.writers.LoadOrStore(collection, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "|")
}

func collectionPrefix(collection string) []byte {
	return []byte(prefixCollection + collection + "|")
}

func entityKey(collection, id string) []byte {
	return []byte(prefixCollection + collection + "|" + id)
}

// Put writes doc under (collection, id). Optimistic local writes go through
// Put and leave lastSync untouched.
func (s *Store) Put(ctx context.Context, collection, id string, doc Document) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) || !validName(id) {
		return ErrInvalidName
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}

	unlock := s.lock(collection)
	defer unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityKey(collection, id), data)
	}); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get returns the document stored under (collection, id).
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if !validName(collection) || !validName(id) {
		return nil, ErrInvalidName
	}

	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(collection, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// GetAll returns every document of a collection keyed by id.
func (s *Store) GetAll(ctx context.Context, collection string) (map[string]Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if !validName(collection) {
		return nil, ErrInvalidName
	}

	prefix := collectionPrefix(collection)
	out := make(map[string]Document)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			var doc Document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				logging.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("Skipping undecodable document")
				continue
			}
			out[id] = doc
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	return out, nil
}

// Delete removes (collection, id). Deleting a missing entity is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) || !validName(id) {
		return ErrInvalidName
	}

	unlock := s.lock(collection)
	defer unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entityKey(collection, id))
	}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Clear removes every document of a collection and its sync metadata.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) {
		return ErrInvalidName
	}

	unlock := s.lock(collection)
	defer unlock()

	if err := s.db.DropPrefix(collectionPrefix(collection)); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(lastSyncKey(collection))); err != nil {
			return err
		}
		return txn.Delete(metaKey(initialSyncKey(collection)))
	})
}

// ReplaceCollection is the bulk-pull write: the collection's contents become
// exactly docs and lastSync is stamped. Large collections are committed in
// several transactions; callers mark the initial sync complete only after
// this returns so an interrupted replace is redone on the next pull.
func (s *Store) ReplaceCollection(ctx context.Context, collection string, docs map[string]Document) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) {
		return ErrInvalidName
	}

	unlock := s.lock(collection)
	defer unlock()

	existing, err := s.keysWithPrefix(ctx, collectionPrefix(collection))
	if err != nil {
		return fmt.Errorf("replace %s: %w", collection, err)
	}

	bw := s.newBatch()
	for _, key := range existing {
		id := string(key[len(collectionPrefix(collection)):])
		if _, keep := docs[id]; keep {
			continue
		}
		if err := bw.del(key); err != nil {
			bw.discard()
			return fmt.Errorf("replace %s: %w", collection, err)
		}
	}
	for id, doc := range docs {
		if !validName(id) {
			logging.Warn().Str("collection", collection).Str("id", id).Msg("Skipping pulled document with invalid id")
			continue
		}
		data, err := json.Marshal(doc)
		if err != nil {
			bw.discard()
			return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
		}
		if err := bw.set(entityKey(collection, id), data); err != nil {
			bw.discard()
			return fmt.Errorf("replace %s: %w", collection, err)
		}
	}
	if err := bw.set(metaKey(lastSyncKey(collection)), timeValue(time.Now())); err != nil {
		bw.discard()
		return fmt.Errorf("replace %s: %w", collection, err)
	}
	if err := bw.commit(); err != nil {
		return fmt.Errorf("replace %s: %w", collection, err)
	}
	return nil
}

// ApplyPulled writes the deltas of one live-diff round and stamps lastSync.
func (s *Store) ApplyPulled(ctx context.Context, collection string, upserts map[string]Document, deletes []string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) {
		return ErrInvalidName
	}

	unlock := s.lock(collection)
	defer unlock()

	bw := s.newBatch()
	for id, doc := range upserts {
		data, err := json.Marshal(doc)
		if err != nil {
			bw.discard()
			return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
		}
		if err := bw.set(entityKey(collection, id), data); err != nil {
			bw.discard()
			return err
		}
	}
	for _, id := range deletes {
		if err := bw.del(entityKey(collection, id)); err != nil {
			bw.discard()
			return err
		}
	}
	if err := bw.set(metaKey(lastSyncKey(collection)), timeValue(time.Now())); err != nil {
		bw.discard()
		return err
	}
	if err := bw.commit(); err != nil {
		return fmt.Errorf("apply pulled %s: %w", collection, err)
	}
	return nil
}

// Rename moves a document from oldID to newID in a single transaction, so a
// reader always resolves exactly one of the two ids. When oldID is absent
// and newID already exists the call is a no-op (rename already happened).
func (s *Store) Rename(ctx context.Context, collection, oldID, newID string, patch Document) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !validName(collection) || !validName(oldID) || !validName(newID) {
		return ErrInvalidName
	}

	unlock := s.lock(collection)
	defer unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(collection, oldID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if _, err := txn.Get(entityKey(collection, newID)); err == nil {
				return nil
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		for k, v := range patch {
			if v == nil {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := txn.Set(entityKey(collection, newID), data); err != nil {
			return err
		}
		return txn.Delete(entityKey(collection, oldID))
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("rename %s/%s -> %s: %w", collection, oldID, newID, err)
	}
	return nil
}

// RewriteField replaces string field values equal to oldVal with newVal in
// every document of collection. Returns the number of documents changed.
func (s *Store) RewriteField(ctx context.Context, collection, field, oldVal, newVal string) (int, error) {
	docs, err := s.GetAll(ctx, collection)
	if err != nil {
		return 0, err
	}

	unlock := s.lock(collection)
	defer unlock()

	bw := s.newBatch()
	changed := 0
	for id, doc := range docs {
		if v, ok := doc[field].(string); !ok || v != oldVal {
			continue
		}
		doc[field] = newVal
		data, err := json.Marshal(doc)
		if err != nil {
			bw.discard()
			return 0, err
		}
		if err := bw.set(entityKey(collection, id), data); err != nil {
			bw.discard()
			return 0, err
		}
		changed++
	}
	if err := bw.commit(); err != nil {
		return 0, fmt.Errorf("rewrite %s.%s: %w", collection, field, err)
	}
	return changed, nil
}

// Collections lists the collections that currently hold at least one document.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	keys, err := s.keysWithPrefix(ctx, []byte(prefixCollection))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		rest := string(key[len(prefixCollection):])
		idx := strings.LastIndex(rest, "|")
		if idx <= 0 {
			continue
		}
		c := rest[:idx]
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) keysWithPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// Close closes the database, giving up after CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.cfg.CloseTimeout
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Local store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
