// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package requestbuilders

import (
	"fmt"
	"time"

	"github.com/jontk/slurm-controller/internal/reservation"
)

// ReservationBuilder provides a fluent interface for building reservation
// create requests.
type ReservationBuilder struct {
	req    reservation.CreateRequest
	errors []error
}

// NewReservationBuilder creates a builder starting at the given time.
func NewReservationBuilder(start time.Time) *ReservationBuilder {
	return &ReservationBuilder{req: reservation.CreateRequest{Start: start}}
}

// WithName sets an explicit reservation name; omit to have one generated.
func (b *ReservationBuilder) WithName(name string) *ReservationBuilder {
	b.req.Name = name
	return b
}

// WithDuration sets the reservation length from its start time.
func (b *ReservationBuilder) WithDuration(d time.Duration) *ReservationBuilder {
	if d <= 0 {
		b.addError(fmt.Errorf("duration must be positive, got %v", d))
		return b
	}
	b.req.Duration = d
	return b
}

// WithEnd sets an explicit end time, overriding WithDuration.
func (b *ReservationBuilder) WithEnd(end time.Time) *ReservationBuilder {
	b.req.End = end
	return b
}

// WithAccounts sets the permitted account list.
func (b *ReservationBuilder) WithAccounts(accounts ...string) *ReservationBuilder {
	b.req.Accounts = accounts
	return b
}

// WithUsers sets the permitted user list.
func (b *ReservationBuilder) WithUsers(users ...string) *ReservationBuilder {
	b.req.Users = users
	return b
}

// WithNodeList sets "ALL" or lets ResolveNodeList resolve an explicit list.
func (b *ReservationBuilder) WithNodeList(nodeList string) *ReservationBuilder {
	b.req.NodeList = nodeList
	return b
}

// WithNodeNames names explicit nodes to carve out.
func (b *ReservationBuilder) WithNodeNames(names ...string) *ReservationBuilder {
	b.req.NodeNames = names
	return b
}

// WithPartition scopes the reservation to a named partition.
func (b *ReservationBuilder) WithPartition(partition string) *ReservationBuilder {
	b.req.Partition = partition
	return b
}

// WithFeatures sets the feature list carried for reporting purposes.
func (b *ReservationBuilder) WithFeatures(features ...string) *ReservationBuilder {
	b.req.Features = features
	return b
}

func (b *ReservationBuilder) addError(err error) {
	b.errors = append(b.errors, err)
}

// Errors returns any accumulated validation errors.
func (b *ReservationBuilder) Errors() []error { return b.errors }

// Build returns the assembled create request, or the accumulated
// builder-level errors. Manager.Create performs the full field
// cross-validation (§4.4); Build only catches malformed single fields
// caught early, before the request ever reaches the manager.
func (b *ReservationBuilder) Build() (reservation.CreateRequest, error) {
	if len(b.errors) > 0 {
		return reservation.CreateRequest{}, fmt.Errorf("reservation request validation errors: %v", b.errors)
	}
	return b.req, nil
}
