// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package outbox

import (
	"time"

	"github.com/goccy/go-json"
)

// Status is the state of an outbox operation.
type Status string

// Operation states. synced is terminal: a synced operation is removed.
const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
	StatusSynced  Status = "synced"
)

// Operation is one durable, not-yet-acknowledged remote mutation.
type Operation struct {
	ID   string `json:"id"`
	Seq  uint64 `json:"seq"`
	Type string `json:"operationType"`

	// Data is the payload needed to replay the mutation, decoded into a
	// typed mutation by package mutation.
	Data json.RawMessage `json:"data"`

	EntityID   string    `json:"entityId"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`

	// RemoteID is the server id reserved for a create before its remote
	// write, so a replay after a crash writes to the same path.
	RemoteID string `json:"remoteId,omitempty"`
}

// Counts summarizes outstanding operations.
type Counts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
}

// Total is the number of operations still in the log.
func (c Counts) Total() int {
	return c.Pending + c.Syncing + c.Failed
}

// validTransition reports whether MarkStatus may move from -> to.
// failed -> pending is reserved for ResetFailedToPending.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSyncing
	case StatusSyncing:
		return to == StatusSynced || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}
