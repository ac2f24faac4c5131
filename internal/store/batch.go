// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// batch writes through a transaction and rolls over to a new one when
// Badger reports ErrTxnTooBig.
type batch struct {
	db  *badger.DB
	txn *badger.Txn
}

func (s *Store) newBatch() *batch {
	return &batch{db: s.db, txn: s.db.NewTransaction(true)}
}

func (b *batch) set(key, val []byte) error {
	err := b.txn.Set(key, val)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := b.txn.Commit(); err != nil {
		return err
	}
	b.txn = b.db.NewTransaction(true)
	return b.txn.Set(key, val)
}

func (b *batch) del(key []byte) error {
	err := b.txn.Delete(key)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := b.txn.Commit(); err != nil {
		return err
	}
	b.txn = b.db.NewTransaction(true)
	return b.txn.Delete(key)
}

func (b *batch) commit() error {
	return b.txn.Commit()
}

func (b *batch) discard() {
	b.txn.Discard()
}
