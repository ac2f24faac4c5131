// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// DedupeJobName is the name of the inventory de-duplication job.
const DedupeJobName = "dedupe_inventory"

// Cache is the local copy of the inventory kept in step with merges.
type Cache interface {
	Put(ctx context.Context, collection, id string, doc store.Document) error
	Delete(ctx context.Context, collection, id string) error
}

// DedupeInventoryJob merges inventory items that share a SKU, or a barcode
// when the SKU is empty. The oldest item of each group survives with the
// summed quantity and a stock history record; the others are deleted.
type DedupeInventoryJob struct {
	remote remote.Store
	cache  Cache
	actor  string
}

// NewDedupeInventoryJob creates the job. cache may be nil.
func NewDedupeInventoryJob(r remote.Store, cache Cache, actor string) *DedupeInventoryJob {
	if actor == "" {
		actor = "migration"
	}
	return &DedupeInventoryJob{remote: r, cache: cache, actor: actor}
}

// Name implements Job.
func (j *DedupeInventoryJob) Name() string { return DedupeJobName }

// Version implements Job.
func (j *DedupeInventoryJob) Version() int { return 1 }

type member struct {
	id  string
	doc remote.Document
}

// dedupeKey returns the uniqueness key of an item, or "" if it has none.
func dedupeKey(doc remote.Document) string {
	if sku := strings.ToUpper(strings.TrimSpace(store.StringField(doc, "sku"))); sku != "" {
		return "sku:" + sku
	}
	if barcode := strings.TrimSpace(store.StringField(doc, "barcode")); barcode != "" {
		return "barcode:" + barcode
	}
	return ""
}

// Plan implements Job. One step per group of duplicates.
func (j *DedupeInventoryJob) Plan(ctx context.Context) ([]Step, error) {
	items, err := j.remote.List(ctx, mutation.CollectionInventory, 0)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}

	groups := make(map[string][]member)
	for id, doc := range items {
		if key := dedupeKey(doc); key != "" {
			groups[key] = append(groups[key], member{id: id, doc: doc})
		}
	}

	keys := make([]string, 0, len(groups))
	for key, members := range groups {
		if len(members) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	steps := make([]Step, 0, len(keys))
	for _, key := range keys {
		members := groups[key]
		sort.Slice(members, func(a, b int) bool {
			ca, _ := store.IntField(members[a].doc, "createdAt")
			cb, _ := store.IntField(members[b].doc, "createdAt")
			if ca != cb {
				return ca < cb
			}
			return members[a].id < members[b].id
		})
		steps = append(steps, Step{
			ID:  key,
			Run: func(ctx context.Context) error { return j.merge(ctx, key, members) },
		})
	}
	return steps, nil
}

// merge folds members[1:] into members[0] in one multi-path write.
func (j *DedupeInventoryJob) merge(ctx context.Context, key string, members []member) error {
	keeper := members[0]
	total := 0
	merged := make([]any, 0, len(members)-1)
	for _, m := range members {
		qty, _ := store.IntField(m.doc, "quantity")
		total += qty
		if m.id != keeper.id {
			merged = append(merged, m.id)
		}
	}

	adjust := &mutation.AdjustStock{
		ItemID:    keeper.id,
		Change:    mutation.StockSet,
		Quantity:  total,
		Reason:    "merged duplicate items",
		Actor:     j.actor,
		HistoryID: "dedupe-" + keeper.id,
		Timestamp: time.Now().UnixMilli(),
	}
	writes, err := adjust.Plan(keeper.id, keeper.doc)
	if err != nil {
		return err
	}
	keeperPath := remote.Join(mutation.CollectionInventory, keeper.id)
	writes[keeperPath]["mergedFrom"] = merged
	for _, m := range members[1:] {
		writes[remote.Join(mutation.CollectionInventory, m.id)] = nil
	}

	if err := j.remote.Update(ctx, writes); err != nil {
		return fmt.Errorf("merge %s: %w", key, err)
	}
	logging.Ctx(ctx).Info().
		Str("key", key).
		Str("keeper", keeper.id).
		Int("merged", len(merged)).
		Int("quantity", total).
		Msg("Merged duplicate inventory items")

	if j.cache == nil {
		return nil
	}
	local := remote.Merge(keeper.doc, remote.ResolveServerValues(writes[keeperPath], time.Now()))
	if err := j.cache.Put(ctx, mutation.CollectionInventory, keeper.id, local); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("id", keeper.id).Msg("Failed to update cached item after merge")
	}
	for _, m := range members[1:] {
		if err := j.cache.Delete(ctx, mutation.CollectionInventory, m.id); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("id", m.id).Msg("Failed to drop cached duplicate")
		}
	}
	return nil
}
