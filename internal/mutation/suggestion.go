// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// Suggestion statuses.
const (
	SuggestionPending  = "pending"
	SuggestionApproved = "approved"
	SuggestionRejected = "rejected"
)

// Suggestion is a proposed edit awaiting approval.
type Suggestion struct {
	// Type is the kind of proposed edit: add, edit or delete.
	Type        string         `json:"type" validate:"required,oneof=add edit delete"`
	TargetID    string         `json:"targetId,omitempty" validate:"omitempty,entityid"`
	TargetName  string         `json:"targetName,omitempty" validate:"required_without=TargetID,max=200"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      string         `json:"status" validate:"required,oneof=pending approved rejected"`
	SubmittedBy string         `json:"submittedBy,omitempty"`
	CreatedAt   int64          `json:"createdAt,omitempty"`
}

// CreateSuggestion submits a suggestion.
type CreateSuggestion struct {
	createBase
	Suggestion Suggestion `json:"suggestion"`
}

func (m *CreateSuggestion) Type() string       { return typeOf(KindSuggestion, ActionCreate) }
func (m *CreateSuggestion) Kind() Kind         { return KindSuggestion }
func (m *CreateSuggestion) Collection() string { return CollectionSuggestions }

func (m *CreateSuggestion) References() []string {
	if m.Suggestion.TargetID != "" {
		return []string{m.Suggestion.TargetID}
	}
	return nil
}

func (m *CreateSuggestion) prepare(now time.Time) {
	if m.Suggestion.CreatedAt == 0 {
		m.Suggestion.CreatedAt = unixMillis(now)
	}
	if m.Suggestion.Status == "" {
		m.Suggestion.Status = SuggestionPending
	}
}

func (m *CreateSuggestion) Plan(id string, _ remote.Document) (Writes, error) {
	return Writes{path(CollectionSuggestions, id): stamped(toDocument(m.Suggestion))}, nil
}

// UpdateSuggestion records a review decision or edits the proposal.
type UpdateSuggestion struct {
	updateBase
}

func (m *UpdateSuggestion) Type() string       { return typeOf(KindSuggestion, ActionUpdate) }
func (m *UpdateSuggestion) Kind() Kind         { return KindSuggestion }
func (m *UpdateSuggestion) Collection() string { return CollectionSuggestions }

func (m *UpdateSuggestion) writable() map[string]bool {
	return fieldSet("status", "reviewedBy", "reviewNote", "payload")
}

func (m *UpdateSuggestion) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionSuggestions, id)
}
