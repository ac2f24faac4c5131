// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package suggestions accepts proposed edits awaiting approval and rejects
// duplicates of a suggestion that is still pending.
package suggestions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/syncengine"
)

// ErrDuplicateSuggestion is returned by Submit when a pending suggestion of
// the same type already targets the same entity.
var ErrDuplicateSuggestion = errors.New("suggestions: duplicate pending suggestion")

// Engine is the part of the sync engine suggestions are written through.
type Engine interface {
	EnqueueOrApply(ctx context.Context, m mutation.Mutation) (syncengine.Result, error)
}

// Cache reads the local copy of the suggestions subtree.
type Cache interface {
	GetAll(ctx context.Context, collection string) (map[string]store.Document, error)
}

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	HasConnectivity() bool
}

// Service submits and reviews suggestions.
type Service struct {
	engine      Engine
	cache       Cache
	remote      remote.Store
	conn        Connectivity
	callTimeout time.Duration
}

// NewService creates a service. remote and conn may be nil, in which case
// duplicates are checked against the local cache only.
func NewService(engine Engine, cache Cache, r remote.Store, conn Connectivity, callTimeout time.Duration) *Service {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Service{engine: engine, cache: cache, remote: r, conn: conn, callTimeout: callTimeout}
}

// Submit creates a pending suggestion unless an equivalent one is pending.
func (s *Service) Submit(ctx context.Context, sg mutation.Suggestion) (syncengine.Result, error) {
	sg.Status = mutation.SuggestionPending

	existing, err := s.pending(ctx)
	if err != nil {
		return syncengine.Result{}, err
	}
	for id, doc := range existing {
		if sameTarget(sg, doc) {
			duplicatesTotal.Inc()
			logging.Ctx(ctx).Debug().
				Str("existing_id", id).
				Str("type", sg.Type).
				Msg("Duplicate suggestion rejected")
			return syncengine.Result{}, fmt.Errorf("%w: %s", ErrDuplicateSuggestion, id)
		}
	}

	res, err := s.engine.EnqueueOrApply(ctx, &mutation.CreateSuggestion{Suggestion: sg})
	if err != nil {
		return syncengine.Result{}, err
	}
	submittedTotal.WithLabelValues(sg.Type).Inc()
	return res, nil
}

// Review records an approval or rejection.
func (s *Service) Review(ctx context.Context, id, status, reviewer, note string) (syncengine.Result, error) {
	if status != mutation.SuggestionApproved && status != mutation.SuggestionRejected {
		return syncengine.Result{}, fmt.Errorf("suggestions: invalid review status %q", status)
	}
	m := &mutation.UpdateSuggestion{}
	m.ID = id
	m.Patch = remote.Document{"status": status, "reviewedBy": reviewer}
	if note != "" {
		m.Patch["reviewNote"] = note
	}
	return s.engine.EnqueueOrApply(ctx, m)
}

// pending returns every pending suggestion known locally and, when online,
// remotely. A failed remote read falls back to the local cache.
func (s *Service) pending(ctx context.Context) (map[string]store.Document, error) {
	local, err := s.cache.GetAll(ctx, mutation.CollectionSuggestions)
	if err != nil {
		return nil, fmt.Errorf("read cached suggestions: %w", err)
	}
	all := make(map[string]store.Document, len(local))
	for id, doc := range local {
		all[id] = doc
	}

	if s.remote != nil && s.conn != nil && s.conn.HasConnectivity() {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		children, err := s.remote.List(callCtx, mutation.CollectionSuggestions, 0)
		cancel()
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Remote suggestion check failed, using local cache")
		}
		for id, doc := range children {
			all[id] = doc
		}
	}

	for id, doc := range all {
		if store.StringField(doc, "status") != mutation.SuggestionPending {
			delete(all, id)
		}
	}
	return all, nil
}

// sameTarget reports whether doc is a suggestion of the same type about the
// same entity: matching target ids, or for suggestions without one
// (proposed additions) matching target names.
func sameTarget(sg mutation.Suggestion, doc store.Document) bool {
	if store.StringField(doc, "type") != sg.Type {
		return false
	}
	if sg.TargetID != "" {
		return store.StringField(doc, "targetId") == sg.TargetID
	}
	name := normalize(sg.TargetName)
	return name != "" && normalize(store.StringField(doc, "targetName")) == name
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
