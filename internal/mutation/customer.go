// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// Customer service types. Each has its own collection.
const (
	ServiceRetail    = "retail"
	ServiceWholesale = "wholesale"
)

// Customer is a customer record.
type Customer struct {
	Name      string `json:"name" validate:"required,max=200"`
	Phone     string `json:"phone,omitempty" validate:"max=32"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Address   string `json:"address,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// CreateCustomer adds a customer.
type CreateCustomer struct {
	createBase
	ServiceType string   `json:"serviceType" validate:"required,oneof=retail wholesale"`
	Customer    Customer `json:"customer"`
}

func (m *CreateCustomer) Type() string       { return typeOf(KindCustomer, ActionCreate) }
func (m *CreateCustomer) Kind() Kind         { return KindCustomer }
func (m *CreateCustomer) Collection() string { return CustomerCollection(m.ServiceType) }

func (m *CreateCustomer) prepare(now time.Time) {
	if m.Customer.CreatedAt == 0 {
		m.Customer.CreatedAt = unixMillis(now)
	}
}

func (m *CreateCustomer) Plan(id string, _ remote.Document) (Writes, error) {
	return Writes{path(m.Collection(), id): stamped(toDocument(m.Customer))}, nil
}

// UpdateCustomer patches a customer.
type UpdateCustomer struct {
	updateBase
	ServiceType string `json:"serviceType" validate:"required,oneof=retail wholesale"`
}

func (m *UpdateCustomer) Type() string       { return typeOf(KindCustomer, ActionUpdate) }
func (m *UpdateCustomer) Kind() Kind         { return KindCustomer }
func (m *UpdateCustomer) Collection() string { return CustomerCollection(m.ServiceType) }

func (m *UpdateCustomer) writable() map[string]bool {
	return fieldSet("name", "phone", "email", "address", "notes")
}

func (m *UpdateCustomer) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(m.Collection(), id)
}

// DeleteCustomer removes a customer.
type DeleteCustomer struct {
	deleteBase
	ServiceType string `json:"serviceType" validate:"required,oneof=retail wholesale"`
}

func (m *DeleteCustomer) Type() string       { return typeOf(KindCustomer, ActionDelete) }
func (m *DeleteCustomer) Kind() Kind         { return KindCustomer }
func (m *DeleteCustomer) Collection() string { return CustomerCollection(m.ServiceType) }

func (m *DeleteCustomer) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(m.Collection(), id)
}
