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

// Package ace implements the core of the dashboard consistency engine:
// the state manager (timestamp allocation, read policies, attention
// tracking, garbage collection) and the per-dashboard refresh
// scheduler. The versioned node store and dependency graph it builds
// on live in the sibling node and graph packages.
package ace

import (
	"context"

	"github.com/pkg/errors"
	"github.com/transactional-panorama/ace/internal/graph"
	"github.com/transactional-panorama/ace/internal/node"
)

// Policy selects a read-snapshot strategy. See spec section 4.4.1.
type Policy int

const (
	// ICNB is incoherent, never-block: per-node latest installed
	// Version, regardless of cross-node consistency.
	ICNB Policy = iota
	// GCNB is globally coherent, k-blocking: the highest ts with at
	// most KRelaxed outstanding placeholders.
	GCNB
	// LCMB is locally coherent, monotonic, k-blocking.
	LCMB
	// GCPB is globally coherent, progressive, blocking: the snapshot at
	// last_submitted, placeholders and all.
	GCPB
	// CMVA is coherent, most-recent, k-allowed.
	CMVA
)

func (p Policy) String() string {
	switch p {
	case ICNB:
		return "ICNB"
	case GCNB:
		return "GCNB"
	case LCMB:
		return "LCMB"
	case GCPB:
		return "GCPB"
	case CMVA:
		return "CMVA"
	default:
		return "unknown"
	}
}

// StartTS is node.StartTS, re-exported for callers of this package.
const StartTS = node.StartTS

// IVTag is the reserved version_result string used to mark a
// placeholder at the external JSON boundary.
const IVTag = "IV"

// Sentinel errors. All are wrapped with github.com/pkg/errors at their
// point of origin so that call sites can still errors.Is against them.
var (
	// ErrUnknownDashboard is returned for any operation against a
	// dash_id that was never created (or was already deleted).
	ErrUnknownDashboard = errors.New("ace: unknown dashboard id")
	// ErrUnknownNode is returned when a read or write references a node
	// id absent from the dashboard's dependency graph. It is the same
	// value as graph.ErrUnknownNode, which is where such errors originate.
	ErrUnknownNode = graph.ErrUnknownNode
	// ErrAlreadyExists is returned by CreateState if dash_id is already
	// registered.
	ErrAlreadyExists = errors.New("ace: dashboard already exists")
)

// Computer is the opaque compute collaborator from spec section 6:
// compute(form_data) -> (code, result). Implementations may return an
// error instead of doing their own (400, message) mapping; per spec
// section 7, compute failures are expected and handled rather than
// fatal, so the scheduler maps a returned error to (code=400,
// result=err.Error()) itself and still installs it as the node's
// version for this ts.
type Computer interface {
	Compute(ctx context.Context, nodeID int64, formData any) (code int, result any, err error)
}

// Estimator is the opaque cost collaborator from spec section 6:
// estimate(form_data) -> int. A returned error is treated as an
// estimator failure (spec section 7): the scheduler clears the whole
// cost map for the job and proceeds with default costs.
type Estimator interface {
	Estimate(ctx context.Context, nodeID int64, formData any) (cost int, err error)
}

// ReadResult is the value returned by ReadViewport / read_charts: the
// wrapper ts plus a per-node snapshot, each entry already filtered
// through the last-read suppression (spec section 4.4.2).
type ReadResult struct {
	TS       int64
	Snapshot map[int64]node.Entry
}

// Impacted groups from SubmitTxn mirror graph.Impacted but are
// re-declared here to keep callers of this package from needing to
// import internal/graph directly.
type Impacted struct {
	BaseTables []int64
	Filters    []int64
	Vizzes     []int64
}
