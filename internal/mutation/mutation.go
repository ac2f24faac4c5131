// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package mutation defines the typed operations that flow through the outbox.
//
// On disk an operation is a generic JSON document tagged with its type
// ("inventory.create", "customer.update", ...). Decode validates it into one
// of the concrete mutation structs; everything downstream works with the
// sealed Mutation interface and type switches.
//
// Every mutation describes its effect as a Plan: a multi-path write keyed by
// "<collection>/<id>" with merge semantics. The same plan is applied to the
// local store (optimistic writes) and to the remote store (replay).
package mutation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// Kind is the entity kind a mutation targets.
type Kind string

// Entity kinds.
const (
	KindInventory   Kind = "inventory"
	KindCustomer    Kind = "customer"
	KindBasket      Kind = "basket"
	KindSuggestion  Kind = "suggestion"
	KindGSAT        Kind = "gsat"
	KindTransaction Kind = "transaction"
)

// Action is what a mutation does to its target.
type Action string

// Mutation actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAdjust Action = "adjust"
)

// Remote subtrees (and local collection names).
const (
	CollectionInventory    = "inventory"
	CollectionStockHistory = "stock_history"
	CollectionBaskets      = "baskets"
	CollectionSuggestions  = "suggestions"
	CollectionGSAT         = "gsat_activations"
	CollectionTransactions = "transactions"
	customersPrefix        = "customers"
)

// CustomerCollection returns the collection holding customers of a service
// type ("customers/retail").
func CustomerCollection(serviceType string) string {
	return customersPrefix + "/" + serviceType
}

var (
	// ErrUnknownType is returned by Decode for unregistered operation types.
	ErrUnknownType = errors.New("mutation: unknown operation type")

	// ErrTargetMissing is returned by Plan when a mutation needs the current
	// target document and it does not exist.
	ErrTargetMissing = errors.New("mutation: target document missing")

	// ErrFieldNotWritable is returned for update patches touching fields
	// outside the kind's writable set.
	ErrFieldNotWritable = errors.New("mutation: field not writable")
)

// Writes is a multi-path write: "<collection>/<id>" -> document patch.
// A nil document deletes the path.
type Writes map[string]remote.Document

// Mutation is the sealed union of operations.
type Mutation interface {
	// Type is "<kind>.<action>", the outbox operationType.
	Type() string
	Kind() Kind
	Action() Action

	// Target is the id of the entity the mutation applies to. For creates
	// it is the temp id until the create is synced.
	Target() string

	// Collection is the local collection and remote subtree of the target.
	Collection() string

	// References lists other entity ids the mutation mentions.
	References() []string

	// Commutative reports whether the mutation is a pure update or delete
	// of an existing document that may be batched with mutations of other
	// entities.
	Commutative() bool

	// NeedsCurrent reports whether Plan needs the current target document.
	NeedsCurrent() bool

	// Plan returns the writes that perform the mutation against entity id.
	// current is the target document when NeedsCurrent is true.
	Plan(id string, current remote.Document) (Writes, error)

	prepare(now time.Time)
}

// Creator is implemented by create mutations, whose target id is assigned
// by the engine before the mutation is persisted.
type Creator interface {
	Mutation
	AssignID(id string)
}

// Prepare fills generated fields (history record ids, timestamps) so the
// persisted mutation replays identically.
func Prepare(m Mutation, now time.Time) {
	m.prepare(now)
}

// Encode returns the outbox payload of m.
func Encode(m Mutation) (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return data, nil
}

var registry = map[string]func() Mutation{
	"inventory.create":   func() Mutation { return &CreateInventory{} },
	"inventory.update":   func() Mutation { return &UpdateInventory{} },
	"inventory.delete":   func() Mutation { return &DeleteInventory{} },
	"inventory.adjust":   func() Mutation { return &AdjustStock{} },
	"customer.create":    func() Mutation { return &CreateCustomer{} },
	"customer.update":    func() Mutation { return &UpdateCustomer{} },
	"customer.delete":    func() Mutation { return &DeleteCustomer{} },
	"basket.create":      func() Mutation { return &CreateBasket{} },
	"basket.update":      func() Mutation { return &UpdateBasket{} },
	"basket.delete":      func() Mutation { return &DeleteBasket{} },
	"suggestion.create":  func() Mutation { return &CreateSuggestion{} },
	"suggestion.update":  func() Mutation { return &UpdateSuggestion{} },
	"gsat.create":        func() Mutation { return &CreateGSATActivation{} },
	"gsat.update":        func() Mutation { return &UpdateGSATActivation{} },
	"transaction.create": func() Mutation { return &CreateTransaction{} },
	TypeUpsert:           func() Mutation { return &UpsertDocument{} },
}

// Types lists every registered operation type.
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// Decode validates an outbox payload into its typed mutation.
func Decode(opType string, data []byte) (Mutation, error) {
	newFn, ok := registry[opType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opType)
	}
	m := newFn()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", opType, err)
	}
	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", opType, err)
	}
	return m, nil
}

type patcher interface {
	patch() remote.Document
	writable() map[string]bool
}

// Validate checks struct constraints and, for updates, that the patch only
// touches writable fields.
func Validate(m Mutation) error {
	if err := validation.ValidateStruct(m); err != nil {
		return err
	}
	if p, ok := m.(patcher); ok {
		allowed := p.writable()
		for field := range p.patch() {
			if !allowed[field] {
				return fmt.Errorf("%w: %s on %s", ErrFieldNotWritable, field, m.Kind())
			}
		}
	}
	return nil
}

// Reference is a top-level document field holding an entity id of another
// collection. Reconciliation rewrites these when a temp id is replaced.
type Reference struct {
	Collection string
	Field      string
}

// ReferenceFields lists every reference field per target kind.
var ReferenceFields = map[Kind][]Reference{
	KindInventory: {
		{Collection: CollectionStockHistory, Field: "itemId"},
		{Collection: CollectionSuggestions, Field: "targetId"},
	},
	KindCustomer: {
		{Collection: CollectionBaskets, Field: "customerId"},
		{Collection: CollectionTransactions, Field: "customerId"},
		{Collection: CollectionGSAT, Field: "customerId"},
		{Collection: CollectionSuggestions, Field: "targetId"},
	},
}

// KindOf returns the entity kind stored in collection.
func KindOf(collection string) Kind {
	switch {
	case collection == CollectionInventory:
		return KindInventory
	case strings.HasPrefix(collection, customersPrefix+"/"):
		return KindCustomer
	case collection == CollectionBaskets:
		return KindBasket
	case collection == CollectionSuggestions:
		return KindSuggestion
	case collection == CollectionGSAT:
		return KindGSAT
	case collection == CollectionTransactions:
		return KindTransaction
	default:
		return ""
	}
}

// toDocument converts an entity struct into a document.
func toDocument(v any) remote.Document {
	data, err := json.Marshal(v)
	if err != nil {
		return remote.Document{}
	}
	var doc remote.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return remote.Document{}
	}
	return doc
}

func path(collection, id string) string {
	return remote.Join(collection, id)
}

// stamped returns a copy of patch with updatedAt set to the server time.
func stamped(patch remote.Document) remote.Document {
	out := make(remote.Document, len(patch)+1)
	for k, v := range patch {
		out[k] = v
	}
	out["updatedAt"] = remote.ServerTimestamp()
	return out
}

// base carries the no-op hooks shared by most mutations.
type base struct{}

func (base) prepare(time.Time)    {}
func (base) NeedsCurrent() bool   { return false }
func (base) References() []string { return nil }

// createBase is embedded by create mutations.
type createBase struct {
	base
	ID string `json:"id" validate:"required,entityid"`
}

func (c *createBase) Target() string     { return c.ID }
func (c *createBase) AssignID(id string) { c.ID = id }
func (c *createBase) Action() Action     { return ActionCreate }
func (c *createBase) Commutative() bool  { return false }

// updateBase is embedded by update mutations.
type updateBase struct {
	base
	ID    string          `json:"id" validate:"required,entityid"`
	Patch remote.Document `json:"patch" validate:"required,min=1"`
}

func (u *updateBase) Target() string         { return u.ID }
func (u *updateBase) Action() Action         { return ActionUpdate }
func (u *updateBase) Commutative() bool      { return true }
func (u *updateBase) patch() remote.Document { return u.Patch }

func (u *updateBase) plan(collection, id string) (Writes, error) {
	return Writes{path(collection, id): stamped(u.Patch)}, nil
}

// deleteBase is embedded by delete mutations.
type deleteBase struct {
	base
	ID string `json:"id" validate:"required,entityid"`
}

func (d *deleteBase) Target() string    { return d.ID }
func (d *deleteBase) Action() Action    { return ActionDelete }
func (d *deleteBase) Commutative() bool { return true }

func (d *deleteBase) plan(collection, id string) (Writes, error) {
	return Writes{path(collection, id): nil}, nil
}

func typeOf(k Kind, a Action) string {
	return string(k) + "." + string(a)
}

func fieldSet(fields ...string) map[string]bool {
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

// unixMillis converts t to the millisecond timestamps stored in documents.
func unixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
