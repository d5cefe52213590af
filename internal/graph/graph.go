// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package graph implements the versioned dependency DAG described in
// spec section 4.2: a precedent-to-dependent adjacency list over the
// node package's per-node version stores, with a BFS closure used to
// compute the impacted set of a refresh.
package graph

import (
	"github.com/pkg/errors"
	"github.com/transactional-panorama/ace/internal/node"
)

// Dependency is an ordered (precedent, dependent) pair. Precedents are
// BaseTable or Filter; dependents are Filter or Viz.
type Dependency struct {
	PrecedentID   int64
	PrecedentKind node.Kind
	DependentID   int64
	DependentKind node.Kind
}

// ErrCycle is returned by Insert when adding a dependency would close a
// cycle in the graph. The dependency graph is acyclic by construction
// (spec section 3); this validates that construction rather than
// trusting it.
var ErrCycle = errors.New("dependency graph: inserting edge would create a cycle")

// ErrUnknownNode is returned when an operation references a node id
// that was never introduced through Insert.
var ErrUnknownNode = errors.New("graph: unknown node id")

// Graph is the ViewGraph of spec section 3: a map of id to Node plus a
// map of precedent id to dependent ids.
type Graph struct {
	nodes     map[int64]*node.Store
	precToDep map[int64][]int64
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[int64]*node.Store),
		precToDep: make(map[int64][]int64),
	}
}

func (g *Graph) ensure(id int64, kind node.Kind) *node.Store {
	n, ok := g.nodes[id]
	if !ok {
		n = node.New(id, kind)
		g.nodes[id] = n
	}
	return n
}

// Insert adds a dependency edge, creating either endpoint's Store if it
// doesn't already exist. It rejects edges that would introduce a cycle.
func (g *Graph) Insert(dep Dependency) error {
	if g.reaches(dep.DependentID, dep.PrecedentID) {
		return errors.WithMessagef(ErrCycle, "precedent %d, dependent %d",
			dep.PrecedentID, dep.DependentID)
	}

	g.ensure(dep.PrecedentID, dep.PrecedentKind)
	g.ensure(dep.DependentID, dep.DependentKind)

	deps := g.precToDep[dep.PrecedentID]
	deps = append(deps, dep.DependentID)
	g.precToDep[dep.PrecedentID] = deps
	return nil
}

// reaches reports whether from can reach to by following existing
// precedent->dependent edges. Used by Insert to reject cycles before
// they're created.
func (g *Graph) reaches(from, to int64) bool {
	if from == to {
		return true
	}
	visited := map[int64]bool{from: true}
	queue := []int64{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.precToDep[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// CreateInitialSnapshot installs a sentinel "not initialized" Version
// at ts on every node currently in the graph. Called once, when a
// dashboard is activated, at ts = node.StartTS.
func (g *Graph) CreateInitialSnapshot(ts int64) {
	for _, n := range g.nodes {
		n.AddVersion(ts, 400, "Not initialized yet")
	}
}

// Impacted groups the BFS closure of a refresh by node kind, as
// returned by CreateSnapshotPlaceholder.
type Impacted struct {
	BaseTables []int64
	Filters    []int64
	Vizzes     []int64
}

// CreateSnapshotPlaceholder performs a BFS from seedIDs following
// precedent->dependent edges, visiting each reached node at most once.
// BaseTable and Filter nodes (computed out-of-band by external writers)
// get an immediate Version(ts, 200, "Done"); Viz nodes get a
// Placeholder(ts) awaiting scheduler-driven recomputation.
func (g *Graph) CreateSnapshotPlaceholder(seedIDs []int64, ts int64) (Impacted, error) {
	var impacted Impacted
	visited := make(map[int64]bool, len(seedIDs))
	queue := append([]int64(nil), seedIDs...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		n, ok := g.nodes[id]
		if !ok {
			return Impacted{}, errors.WithMessagef(ErrUnknownNode, "id %d", id)
		}

		switch n.Kind {
		case node.BaseTable:
			n.AddVersion(ts, 200, "Done")
			impacted.BaseTables = append(impacted.BaseTables, id)
		case node.Filter:
			n.AddVersion(ts, 200, "Done")
			impacted.Filters = append(impacted.Filters, id)
		default:
			n.AddPlaceholder(ts)
			impacted.Vizzes = append(impacted.Vizzes, id)
		}

		for _, dep := range g.precToDep[id] {
			if !visited[dep] {
				queue = append(queue, dep)
			}
		}
	}

	return impacted, nil
}

// ReadSnapshot returns, per node in ids, the entry with the largest ts
// <= the requested ts.
func (g *Graph) ReadSnapshot(ts int64, ids []int64) (map[int64]node.Entry, error) {
	snapshot := make(map[int64]node.Entry, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			return nil, errors.WithMessagef(ErrUnknownNode, "id %d", id)
		}
		if e, ok := n.GetBySnapshot(ts); ok {
			snapshot[id] = e
		}
	}
	return snapshot, nil
}

// ReadVisibleVersions returns, per node in ids, the latest installed
// Version, skipping Placeholders.
func (g *Graph) ReadVisibleVersions(ids []int64) (map[int64]node.Entry, error) {
	snapshot := make(map[int64]node.Entry, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			return nil, errors.WithMessagef(ErrUnknownNode, "id %d", id)
		}
		if v, ok := n.GetVisible(); ok {
			snapshot[id] = v
		}
	}
	return snapshot, nil
}

// AddVersion installs a concrete Version on the given node.
func (g *Graph) AddVersion(id, ts int64, code int, result any) error {
	n, ok := g.nodes[id]
	if !ok {
		return errors.WithMessagef(ErrUnknownNode, "id %d", id)
	}
	n.AddVersion(ts, code, result)
	return nil
}

// CleanUnusedVersions prunes every node in the graph against ts,
// returning the number of entries reclaimed across all nodes.
func (g *Graph) CleanUnusedVersions(ts int64) int {
	reclaimed := 0
	for _, n := range g.nodes {
		before := n.Len()
		n.Prune(ts)
		reclaimed += before - n.Len()
	}
	return reclaimed
}

// NodeKind returns the kind of a known node.
func (g *Graph) NodeKind(id int64) (node.Kind, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, false
	}
	return n.Kind, true
}

// Has reports whether id has been introduced into the graph.
func (g *Graph) Has(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}
