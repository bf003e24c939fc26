// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package node holds the node and partition inventory. The inventory is
// immutable except for node state flags and partition policy fields, which
// selectors must treat as given without mutating.
package node

import (
	"strings"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/internal/types"
)

// Model is the node/partition inventory.
type Model struct {
	nodes      []*types.Node
	byName     map[string]int // name -> index
	partitions map[string]*types.Partition
}

// NewModel creates an inventory from a node list and partition list. Node
// indices are assigned by slice position and referenced throughout the
// controller.
func NewModel(nodes []*types.Node, partitions []*types.Partition) *Model {
	m := &Model{
		nodes:      make([]*types.Node, len(nodes)),
		byName:     make(map[string]int, len(nodes)),
		partitions: make(map[string]*types.Partition, len(partitions)),
	}
	for i, n := range nodes {
		n.Index = i
		m.nodes[i] = n
		m.byName[n.Name] = i
	}
	for _, p := range partitions {
		m.partitions[p.Name] = p
	}
	return m
}

// NodeByName returns the node with the given name.
func (m *Model) NodeByName(name string) (*types.Node, error) {
	idx, ok := m.byName[name]
	if !ok {
		return nil, cerrors.New(cerrors.KindInvalidNodeName, "unknown node: "+name)
	}
	return m.nodes[idx], nil
}

// NodeByIndex returns the node at the given index.
func (m *Model) NodeByIndex(idx int) (*types.Node, error) {
	if idx < 0 || idx >= len(m.nodes) {
		return nil, cerrors.New(cerrors.KindInvalidNodeName, "node index out of range")
	}
	return m.nodes[idx], nil
}

// NumNodes returns the total node count.
func (m *Model) NumNodes() int { return len(m.nodes) }

// Nodes returns the full node slice in index order.
func (m *Model) Nodes() []*types.Node { return m.nodes }

// Partition returns the named partition.
func (m *Model) Partition(name string) (*types.Partition, error) {
	p, ok := m.partitions[name]
	if !ok {
		return nil, cerrors.New(cerrors.KindInvalidPartition, "unknown partition: "+name)
	}
	return p, nil
}

// NodeBitmapOfPartition returns a bitmap with every node belonging to the
// named partition set.
func (m *Model) NodeBitmapOfPartition(name string) (*types.NodeBitmap, error) {
	p, err := m.Partition(name)
	if err != nil {
		return nil, err
	}
	bm := types.NewNodeBitmap(len(m.nodes))
	for _, nn := range p.NodeNames {
		idx, ok := m.byName[nn]
		if !ok {
			continue
		}
		bm.Set(idx)
	}
	return bm, nil
}

// UpNodesBitmap returns a bitmap of every node currently in state UP.
func (m *Model) UpNodesBitmap() *types.NodeBitmap {
	bm := types.NewNodeBitmap(len(m.nodes))
	for i, n := range m.nodes {
		if n.State == types.NodeUp {
			bm.Set(i)
		}
	}
	return bm
}

// NodeCoord returns the coordinate tuple of the named node, used by
// topology-aware selectors.
func (m *Model) NodeCoord(name string) (types.Coord, error) {
	n, err := m.NodeByName(name)
	if err != nil {
		return nil, err
	}
	return n.Coord, nil
}

// SetNodeState updates a node's liveness flag. It is the inventory's only
// mutating method; partition policy fields are changed in place through
// the record Partition returns.
func (m *Model) SetNodeState(name string, state types.NodeState) error {
	n, err := m.NodeByName(name)
	if err != nil {
		return err
	}
	n.State = state
	return nil
}

// ResolveNodeList resolves "ALL" or a comma-separated list of node names
// into a bitmap, as required by reservation creation (§4.4). When names is
// non-empty it is used as the list instead of splitting nodeList.
func (m *Model) ResolveNodeList(nodeList string, names []string) (*types.NodeBitmap, error) {
	bm := types.NewNodeBitmap(len(m.nodes))
	if nodeList == "ALL" {
		for i := range m.nodes {
			bm.Set(i)
		}
		return bm, nil
	}
	if len(names) == 0 && nodeList != "" {
		names = strings.Split(nodeList, ",")
	}
	for _, name := range names {
		idx, ok := m.byName[name]
		if !ok {
			return nil, cerrors.New(cerrors.KindInvalidNodeName, "unknown node in list: "+name)
		}
		bm.Set(idx)
	}
	return bm, nil
}
