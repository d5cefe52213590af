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

// Package node holds the versioned entry store for a single dashboard
// node: an ordered sequence of placeholders and concrete versions,
// guarded by a lock local to that node.
package node

import "sync"

// Kind identifies a node's position in the compute pipeline.
type Kind int

// The three node kinds along the compute pipeline. Precedents are
// BaseTable or Filter; dependents are Filter or Viz.
const (
	BaseTable Kind = iota
	Filter
	Viz
)

func (k Kind) String() string {
	switch k {
	case BaseTable:
		return "base_table"
	case Filter:
		return "filter"
	case Viz:
		return "viz"
	default:
		return "unknown"
	}
}

// StartTS is the timestamp that precedes every real submission. It is
// the timestamp of the sentinel "not initialized" snapshot installed
// when a dashboard is created.
const StartTS int64 = -1

// Entry is either a Placeholder or a Version. Both carry a timestamp;
// only a Version carries a result.
type Entry interface {
	// TS returns the timestamp this entry was installed at.
	TS() int64
	// Placeholder reports whether this entry is a reservation awaiting
	// a Version at the same timestamp.
	Placeholder() bool
}

// Placeholder reserves a version slot at ts, to be resolved by a later
// call to AddVersion at the same timestamp.
type Placeholder struct {
	Ts int64
}

// TS implements Entry.
func (p Placeholder) TS() int64 { return p.Ts }

// Placeholder implements Entry.
func (p Placeholder) Placeholder() bool { return true }

// Version is a concrete (code, result) entry at a timestamp. Versions
// are immutable once installed; they are never mutated, only replaced
// at a Placeholder's slot or pruned by GC.
type Version struct {
	Ts     int64
	Code   int
	Result any
}

// TS implements Entry.
func (v Version) TS() int64 { return v.Ts }

// Placeholder implements Entry.
func (v Version) Placeholder() bool { return false }

// Store is the per-node ordered list of entries described in spec
// section 4.1. Entries need not be sorted by timestamp; every query
// computes min/max explicitly. A Store's zero value is not usable; use
// New.
type Store struct {
	ID   int64
	Kind Kind

	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Store for the given node id and kind.
func New(id int64, kind Kind) *Store {
	return &Store{ID: id, Kind: kind}
}

// AddPlaceholder appends a Placeholder(ts). Callers must not double-add
// a placeholder for the same ts; the store does not guard against it
// (spec section 7, protocol violations are left undefined).
func (s *Store) AddPlaceholder(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Placeholder{Ts: ts})
}

// AddVersion installs a Version at ts. If a Placeholder(ts) is present
// it is replaced in place (N1); otherwise the Version is appended. A
// finish without a matching placeholder is a protocol violation per
// spec section 7 and is handled here by the append fallback rather than
// a panic, matching the Python source's identical behavior (the loop
// index lands past the end of the slice and the version is appended).
func (s *Store) AddVersion(ts int64, code int, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if p, ok := e.(Placeholder); ok && p.Ts == ts {
			s.entries[i] = Version{Ts: ts, Code: code, Result: result}
			return
		}
	}
	s.entries = append(s.entries, Version{Ts: ts, Code: code, Result: result})
}

// GetBySnapshot returns the entry with the largest ts <= the requested
// ts, or false if none exists. Ties are impossible by N1.
func (s *Store) GetBySnapshot(ts int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret Entry
	maxTS := StartTS - 1
	for _, e := range s.entries {
		if maxTS < e.TS() && e.TS() <= ts {
			ret = e
			maxTS = e.TS()
		}
	}
	if ret == nil {
		return nil, false
	}
	return ret, true
}

// GetVisible returns the Version (never a Placeholder) with the largest
// ts, or false if no Version has been installed yet.
func (s *Store) GetVisible() (Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret Version
	found := false
	maxTS := StartTS - 1
	for _, e := range s.entries {
		v, ok := e.(Version)
		if !ok {
			continue
		}
		if v.TS() > maxTS {
			ret = v
			maxTS = v.TS()
			found = true
		}
	}
	return ret, found
}

// Prune reclaims entries no longer reachable by any future read bounded
// by ts. It computes lower = max{entry.ts | entry.ts <= ts} and retains
// only entries with lower <= entry.ts <= ts, which in effect is the single
// latest entry at or below the bound.
//
// This intentionally also discards entries with ts strictly greater
// than the requested bound -- see spec section 9's first open
// question. That behavior is kept verbatim from the Python source
// (util_class.py's clean_unused_versions has no upper guard either) and
// is a documented contract, not an oversight: callers must only invoke
// Prune with a bound that is safe to also truncate forward entries
// against, i.e. lastSubmitted, as the state manager's GC does.
func (s *Store) Prune(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lower := StartTS - 1
	for _, e := range s.entries {
		if lower < e.TS() && e.TS() <= ts {
			lower = e.TS()
		}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if lower <= e.TS() && e.TS() <= ts {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Len reports the number of entries currently retained. Exposed for GC
// accounting, not part of the core read/write protocol.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
