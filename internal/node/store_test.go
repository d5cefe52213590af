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

package node_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/transactional-panorama/ace/internal/node"
)

func TestAddVersionReplacesPlaceholder(t *testing.T) {
	r := require.New(t)
	s := node.New(1, node.Viz)

	s.AddPlaceholder(5)
	r.Equal(1, s.Len())

	s.AddVersion(5, 200, "done")
	r.Equal(1, s.Len(), "replacing a placeholder must not grow the entry list")

	e, ok := s.GetBySnapshot(5)
	r.True(ok)
	r.False(e.Placeholder())
	r.Equal(int64(5), e.TS())
}

func TestAddVersionWithoutPlaceholderAppends(t *testing.T) {
	r := require.New(t)
	s := node.New(1, node.BaseTable)

	s.AddVersion(3, 200, "done")
	r.Equal(1, s.Len())
	v, ok := s.GetVisible()
	r.True(ok)
	r.Equal(int64(3), v.Ts)
}

func TestGetBySnapshotPicksLargestTSLessOrEqual(t *testing.T) {
	r := require.New(t)
	s := node.New(1, node.BaseTable)
	for _, ts := range []int64{-1, 2, 4, 7} {
		s.AddVersion(ts, 200, ts)
	}

	_, ok := s.GetBySnapshot(-2)
	r.False(ok)

	e, ok := s.GetBySnapshot(3)
	r.True(ok)
	r.Equal(int64(2), e.TS())

	e, ok = s.GetBySnapshot(4)
	r.True(ok)
	r.Equal(int64(4), e.TS())

	e, ok = s.GetBySnapshot(100)
	r.True(ok)
	r.Equal(int64(7), e.TS())
}

func TestGetVisibleSkipsPlaceholders(t *testing.T) {
	r := require.New(t)
	s := node.New(1, node.Viz)
	s.AddVersion(1, 200, "first")
	s.AddPlaceholder(2)

	v, ok := s.GetVisible()
	r.True(ok)
	r.Equal(int64(1), v.Ts)
	r.Equal("first", v.Result)
}

func TestPruneScenario(t *testing.T) {
	// Scenario 6 from spec section 8: entries {-1, 2, 4, 7}, prune(5)
	// leaves only {4}; get_by_snapshot(3) is None, get_by_snapshot(4)
	// returns the ts=4 version.
	r := require.New(t)
	s := node.New(1, node.BaseTable)
	for _, ts := range []int64{-1, 2, 4, 7} {
		s.AddVersion(ts, 200, ts)
	}

	s.Prune(5)
	r.Equal(1, s.Len())

	_, ok := s.GetBySnapshot(3)
	r.False(ok)

	e, ok := s.GetBySnapshot(4)
	r.True(ok)
	r.Equal(int64(4), e.TS())
}

func TestPruneDiscardsEntriesAboveBoundToo(t *testing.T) {
	// Documents the contract from spec section 9: prune(ts) also drops
	// entries strictly greater than ts, not only those strictly below
	// the retained lower bound.
	r := require.New(t)
	s := node.New(1, node.BaseTable)
	for _, ts := range []int64{1, 3, 9} {
		s.AddVersion(ts, 200, ts)
	}

	s.Prune(3)
	r.Equal(1, s.Len())
	_, ok := s.GetBySnapshot(9)
	r.False(ok)
}

func TestPerNodeUniqueness(t *testing.T) {
	r := require.New(t)
	s := node.New(1, node.Viz)
	s.AddPlaceholder(1)
	s.AddVersion(1, 200, "a")
	s.AddPlaceholder(2)
	s.AddVersion(2, 200, "b")
	r.Equal(2, s.Len())

	seen := map[int64]bool{}
	for _, ts := range []int64{1, 2} {
		e, ok := s.GetBySnapshot(ts)
		r.True(ok)
		r.False(seen[e.TS()])
		seen[e.TS()] = true
	}
}
