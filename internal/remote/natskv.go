// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/shelfsync/internal/logging"
)

const (
	backendNATS = "nats"

	// mergeAttempts bounds the read-merge-CAS loop of Update.
	mergeAttempts = 5
)

// NATSStore keeps the remote tree in a JetStream Key-Value bucket. Each
// document is one key; "/" in paths maps to "." in keys, so the children of
// "inventory" are the keys matching "inventory.*".
//
// Update is applied key by key. Each key is merged atomically (revision
// checked), but a multi-path update is not atomic across keys: a failure
// part way leaves the earlier keys written. Callers replay the whole
// update, which is idempotent.
type NATSStore struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	now func() time.Time
}

// Connect dials NATS with reconnect handling.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("shelfsync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSStore opens (creating if needed) the Key-Value bucket.
func NewNATSStore(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "shelfsync authoritative tree",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open KV bucket %s: %w", bucket, err)
	}

	logging.Info().Str("bucket", bucket).Msg("NATS KV remote store ready")
	return &NATSStore{nc: nc, kv: kv, now: time.Now}, nil
}

// Conn returns the underlying connection.
func (s *NATSStore) Conn() *nats.Conn {
	return s.nc
}

func kvKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func lastToken(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// mapNATSError translates client errors into the remote taxonomy.
func mapNATSError(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case isWrongRevision(err):
		return fmt.Errorf("%w: %s", ErrConflict, path)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}
}

func decodeDoc(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode remote document: %w", err)
	}
	return doc, nil
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, path string) (doc Document, err error) {
	defer recordCall(backendNATS, "get", time.Now(), &err)
	doc, _, err = s.GetVersioned(ctx, path)
	return doc, err
}

// GetVersioned implements Transactor.
func (s *NATSStore) GetVersioned(ctx context.Context, path string) (Document, uint64, error) {
	if err := ValidatePath(path); err != nil {
		return nil, 0, err
	}
	entry, err := s.kv.Get(ctx, kvKey(path))
	if err != nil {
		return nil, 0, mapNATSError(path, err)
	}
	doc, err := decodeDoc(entry.Value())
	if err != nil {
		return nil, 0, err
	}
	return doc, entry.Revision(), nil
}

// Set implements Store.
func (s *NATSStore) Set(ctx context.Context, path string, doc Document) (err error) {
	defer recordCall(backendNATS, "set", time.Now(), &err)
	if err := ValidatePath(path); err != nil {
		return err
	}
	if doc == nil {
		return s.Delete(ctx, path)
	}
	data, err := json.Marshal(ResolveServerValues(doc, s.now()))
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = s.kv.Put(ctx, kvKey(path), data)
	return mapNATSError(path, err)
}

// Update implements Store.
func (s *NATSStore) Update(ctx context.Context, writes map[string]Document) (err error) {
	defer recordCall(backendNATS, "update", time.Now(), &err)
	paths := make([]string, 0, len(writes))
	for p := range writes {
		if err := ValidatePath(p); err != nil {
			return err
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	now := s.now()
	for _, p := range paths {
		patch := writes[p]
		if patch == nil {
			if err := mapNATSError(p, s.kv.Delete(ctx, kvKey(p))); err != nil {
				return err
			}
			continue
		}
		if err := s.merge(ctx, p, ResolveServerValues(patch, now)); err != nil {
			return err
		}
	}
	return nil
}

// merge applies patch to one key with a revision-checked write.
func (s *NATSStore) merge(ctx context.Context, path string, patch Document) error {
	key := kvKey(path)
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		current, rev, err := s.GetVersioned(ctx, path)
		switch {
		case errors.Is(err, ErrNotFound):
			data, err := json.Marshal(Merge(nil, patch))
			if err != nil {
				return fmt.Errorf("encode %s: %w", path, err)
			}
			_, err = s.kv.Create(ctx, key, data)
			if isWrongRevision(err) {
				continue
			}
			return mapNATSError(path, err)
		case err != nil:
			return err
		}

		data, err := json.Marshal(Merge(current, patch))
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		_, err = s.kv.Update(ctx, key, data, rev)
		if isWrongRevision(err) {
			continue
		}
		return mapNATSError(path, err)
	}
	return fmt.Errorf("%w: %s: too many concurrent writers", ErrConflict, path)
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context, path string) (err error) {
	defer recordCall(backendNATS, "delete", time.Now(), &err)
	if err := ValidatePath(path); err != nil {
		return err
	}
	return mapNATSError(path, s.kv.Delete(ctx, kvKey(path)))
}

// Push implements Store.
func (s *NATSStore) Push(ctx context.Context, path string, doc Document) (id string, err error) {
	defer recordCall(backendNATS, "push", time.Now(), &err)
	id = NewPushID()
	child := Join(path, id)
	if err := ValidatePath(child); err != nil {
		return "", err
	}
	data, err := json.Marshal(ResolveServerValues(doc, s.now()))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", child, err)
	}
	if _, err := s.kv.Create(ctx, kvKey(child), data); err != nil {
		return "", mapNATSError(child, err)
	}
	return id, nil
}

// List implements Store. It reads the current values with a watcher, which
// terminates its initial replay with a nil entry.
func (s *NATSStore) List(ctx context.Context, path string, limitToLast int) (children map[string]Document, err error) {
	defer recordCall(backendNATS, "list", time.Now(), &err)
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	w, err := s.kv.Watch(ctx, kvKey(path)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, mapNATSError(path, err)
	}
	defer func() { _ = w.Stop() }()

	children = make(map[string]Document)
	for {
		select {
		case <-ctx.Done():
			return nil, mapNATSError(path, ctx.Err())
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, fmt.Errorf("%w: %s: watcher closed", ErrUnavailable, path)
			}
			if entry == nil {
				return limitChildren(children, limitToLast), nil
			}
			doc, err := decodeDoc(entry.Value())
			if err != nil {
				logging.Warn().Err(err).Str("key", entry.Key()).Msg("Skipping undecodable KV entry")
				continue
			}
			children[lastToken(entry.Key())] = doc
		}
	}
}

// Watch implements Store.
func (s *NATSStore) Watch(ctx context.Context, path string) (*Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	w, err := s.kv.Watch(wctx, kvKey(path)+".*")
	if err != nil {
		cancel()
		return nil, mapNATSError(path, err)
	}

	sub := newSubscription(path, func() {
		cancel()
		_ = w.Stop()
	})

	go func() {
		children := make(map[string]Document)
		live := false
		emit := func() {
			snap := make(map[string]Document, len(children))
			for id, doc := range children {
				snap[id] = doc
			}
			sub.publish(Snapshot{Path: path, Children: snap, At: time.Now()})
		}

		for {
			select {
			case <-wctx.Done():
				sub.Cancel()
				return
			case entry, ok := <-w.Updates():
				if !ok {
					sub.Cancel()
					return
				}
				if entry == nil {
					live = true
					emit()
					continue
				}
				id := lastToken(entry.Key())
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					delete(children, id)
				default:
					doc, err := decodeDoc(entry.Value())
					if err != nil {
						logging.Warn().Err(err).Str("key", entry.Key()).Msg("Skipping undecodable KV entry")
						continue
					}
					children[id] = doc
				}
				if live {
					emit()
				}
			}
		}
	}()

	return sub, nil
}

// CreateIfAbsent implements Transactor.
func (s *NATSStore) CreateIfAbsent(ctx context.Context, path string, doc Document) (uint64, error) {
	if err := ValidatePath(path); err != nil {
		return 0, err
	}
	data, err := json.Marshal(ResolveServerValues(doc, s.now()))
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	rev, err := s.kv.Create(ctx, kvKey(path), data)
	if err != nil {
		return 0, mapNATSError(path, err)
	}
	return rev, nil
}

// CompareAndSwap implements Transactor.
func (s *NATSStore) CompareAndSwap(ctx context.Context, path string, doc Document, rev uint64) (uint64, error) {
	if err := ValidatePath(path); err != nil {
		return 0, err
	}
	data, err := json.Marshal(ResolveServerValues(doc, s.now()))
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	newRev, err := s.kv.Update(ctx, kvKey(path), data, rev)
	if err != nil {
		return 0, mapNATSError(path, err)
	}
	return newRev, nil
}

// DeleteIfRevision implements Transactor.
func (s *NATSStore) DeleteIfRevision(ctx context.Context, path string, rev uint64) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	return mapNATSError(path, s.kv.Delete(ctx, kvKey(path), jetstream.LastRevision(rev)))
}

func limitChildren(children map[string]Document, limitToLast int) map[string]Document {
	if limitToLast <= 0 || len(children) <= limitToLast {
		return children
	}
	ids := make([]string, 0, len(children))
	for id := range children {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids[:len(ids)-limitToLast] {
		delete(children, id)
	}
	return children
}
