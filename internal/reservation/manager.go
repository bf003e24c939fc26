// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package reservation implements the Reservation Manager: named,
// time-bounded carve-outs of nodes with permitted user/account lists, and
// their atomic on-disk persistence.
package reservation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
)

// NowFunc is overridable in tests; defaults to time.Now.
type NowFunc func() time.Time

// Manager owns the live set of reservations.
type Manager struct {
	mu    sync.RWMutex
	byName map[string]*types.Reservation
	nodes *node.Model
	now   NowFunc
}

// New creates a reservation manager backed by the given node inventory.
func New(nodes *node.Model) *Manager {
	return &Manager{
		byName: make(map[string]*types.Reservation),
		nodes:  nodes,
		now:    time.Now,
	}
}

// CreateRequest carries the fields a client supplies to create().
type CreateRequest struct {
	Name      string
	Start     time.Time
	End       time.Time
	Duration  time.Duration // used when End is zero
	Accounts  []string
	Users     []string
	NodeList  string
	NodeNames []string
	Features  []string
	Partition string
	Type      types.ReservationType
}

// Create validates req and installs a new reservation. start must be >=
// now-60s; end is start+duration when duration is set, otherwise end must
// be > start; at least one principal must be given; the partition, if
// named, must exist; the node list must be "ALL" or resolvable; if no name
// is given one is generated (§4.4, I5).
func (m *Manager) Create(req CreateRequest) (*types.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg cerrors.Aggregate

	now := m.now()
	if req.Start.Before(now.Add(-60 * time.Second)) {
		agg.Add(cerrors.Field(cerrors.KindInvalidTimeValue, "start time is too far in the past", "start", req.Start))
	}

	end := req.End
	if end.IsZero() {
		if req.Duration <= 0 {
			agg.Add(cerrors.Field(cerrors.KindInvalidTimeValue, "end time or duration is required", "duration", req.Duration))
		} else {
			end = req.Start.Add(req.Duration)
		}
	} else if !end.After(req.Start) {
		agg.Add(cerrors.Field(cerrors.KindInvalidTimeValue, "end time must be after start time", "end", end))
	}

	if len(req.Accounts) == 0 && len(req.Users) == 0 {
		agg.Add(cerrors.New(cerrors.KindReservationInvalid, "at least one permitted account or user is required"))
	}
	for _, u := range req.Users {
		if u == "" {
			agg.Add(cerrors.New(cerrors.KindInvalidUser, "user entry cannot be blank"))
			break
		}
	}

	if req.Partition != "" {
		if _, err := m.nodes.Partition(req.Partition); err != nil {
			agg.Add(cerrors.Field(cerrors.KindInvalidPartition, "partition does not exist", "partition", req.Partition))
		}
	}

	var bitmap *types.NodeBitmap
	if req.NodeList != "" || len(req.NodeNames) > 0 {
		bm, err := m.nodes.ResolveNodeList(req.NodeList, req.NodeNames)
		if err != nil {
			agg.Add(err)
		} else {
			bitmap = bm
		}
	} else {
		agg.Add(cerrors.New(cerrors.KindReservationInvalid, "node list is required"))
	}

	if err := agg.ErrorOrNil(cerrors.KindReservationInvalid, "reservation validation failed"); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = m.generateNameLocked(req.Accounts, req.Users)
	} else if _, exists := m.byName[name]; exists {
		return nil, cerrors.New(cerrors.KindReservationNameDup, "reservation name already in use: "+name)
	}

	nodeList := req.NodeList
	if nodeList == "" {
		nodeList = formatCSV(req.NodeNames)
	}
	resv := &types.Reservation{
		Name:      name,
		Start:     req.Start,
		End:       end,
		Accounts:  req.Accounts,
		Users:     req.Users,
		NodeList:  nodeList,
		Nodes:     bitmap,
		Features:  req.Features,
		Partition: req.Partition,
		Type:      req.Type,
	}
	m.byName[name] = resv
	return resv, nil
}

// generateNameLocked builds "<prefix>_<n>" where prefix is the first
// permitted account (or user if none) and n is the minimal non-negative
// integer making the name unique among live reservations (I5).
func (m *Manager) generateNameLocked(accounts, users []string) string {
	prefix := "resv"
	if len(accounts) > 0 {
		prefix = accounts[0]
	} else if len(users) > 0 {
		prefix = users[0]
	}

	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s_%d", prefix, i)
		if _, exists := m.byName[candidate]; !exists {
			return candidate
		}
	}
}

// Update replaces fields of an existing reservation. Changing the node
// list replaces the bitmap atomically.
func (m *Manager) Update(name string, req CreateRequest) (*types.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resv, ok := m.byName[name]
	if !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "reservation not found: "+name)
	}

	if !req.Start.IsZero() {
		resv.Start = req.Start
	}
	if !req.End.IsZero() {
		resv.End = req.End
	} else if req.Duration > 0 {
		resv.End = resv.Start.Add(req.Duration)
	}
	if len(req.Accounts) > 0 {
		resv.Accounts = req.Accounts
	}
	if len(req.Users) > 0 {
		resv.Users = req.Users
	}
	if req.NodeList != "" || len(req.NodeNames) > 0 {
		bm, err := m.nodes.ResolveNodeList(req.NodeList, req.NodeNames)
		if err != nil {
			return nil, err
		}
		resv.NodeList = req.NodeList
		if resv.NodeList == "" {
			resv.NodeList = formatCSV(req.NodeNames)
		}
		resv.Nodes = bm
	}
	if len(req.Features) > 0 {
		resv.Features = req.Features
	}

	return resv, nil
}

// Delete removes a reservation by name.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; !ok {
		return cerrors.New(cerrors.KindNotFound, "reservation not found: "+name)
	}
	delete(m.byName, name)
	return nil
}

// Show returns a reservation by name.
func (m *Manager) Show(name string) (*types.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resv, ok := m.byName[name]
	if !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "reservation not found: "+name)
	}
	return resv, nil
}

// List returns every live reservation, sorted by name for determinism.
func (m *Manager) List() []*types.Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Reservation, 0, len(m.byName))
	for _, r := range m.byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExpireStale removes every reservation whose End time has passed,
// returning the names removed.
func (m *Manager) ExpireStale() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired []string
	for name, r := range m.byName {
		if !r.End.After(now) {
			expired = append(expired, name)
			delete(m.byName, name)
		}
	}
	return expired
}

// NodeMask returns the union of every active reservation's node bitmap
// that the given (account, user) pair is NOT authorised for -- the set of
// nodes a job must treat as unavailable because of reservation coverage.
func (m *Manager) NodeMask(account, user string, numNodes int) *types.NodeBitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	mask := types.NewNodeBitmap(numNodes)
	for _, r := range m.byName {
		if now.Before(r.Start) || !now.Before(r.End) {
			continue
		}
		if authorised(r, account, user) {
			continue
		}
		if r.Nodes != nil {
			mask.Union(r.Nodes)
		}
	}
	return mask
}

func authorised(r *types.Reservation, account, user string) bool {
	for _, a := range r.Accounts {
		if strings.EqualFold(a, account) {
			return true
		}
	}
	for _, u := range r.Users {
		if strings.EqualFold(u, user) {
			return true
		}
	}
	return false
}

func formatCSV(items []string) string { return strings.Join(items, ",") }
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
