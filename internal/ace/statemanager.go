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

package ace

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/transactional-panorama/ace/internal/graph"
	"github.com/transactional-panorama/ace/internal/node"
)

// Options holds the configurable behavior of a StateManager, set at
// creation time and by Config (spec section 6's config operation).
type Options struct {
	Policy        Policy
	KRelaxed      int
	OptViewport   bool
	OptExecTime   bool
	OptMetrics    bool
	OptSkipWrite  bool
	DBConnectInfo string
}

// DefaultOptions mirrors ds_state_manager.py's constructor defaults:
// property combination MV (here ICNB), viewport and exec-time weighting
// on, skip-write on, metrics off.
func DefaultOptions() Options {
	return Options{
		Policy:       ICNB,
		OptViewport:  true,
		OptExecTime:  true,
		OptSkipWrite: true,
	}
}

// StateManager is the DashStateManager of spec section 3: the
// versioned dependency graph plus the bookkeeping needed to allocate
// timestamps, track attention, select read snapshots, and drive GC.
//
// Lock discipline (spec section 5): globalMu guards curTS,
// lastSubmitted, lastCommitted, and numIVs, and envelopes graph
// mutation during SubmitTxn so that timestamp allocation and
// placeholder installation are atomic. metaMu guards viewPortTime and
// nodeMetrics. lastReadMu guards lastRead. Configuration flags are
// plain atomics rather than a fifth named lock, since they are read far
// more often than written and the spec's lock discipline enumerates
// exactly four locks. Lock order when more than one is held: global ->
// meta; a node's local lock (inside graph/node) is never held while
// acquiring global or meta.
type StateManager struct {
	dashID int64
	graph  *graph.Graph
	log    *logrus.Entry

	globalMu      sync.Mutex
	curTS         int64
	lastSubmitted int64
	lastCommitted int64
	numIVs        map[int64]int

	metaMu       sync.Mutex
	viewPortTime map[int64]map[int64]int64
	nodeMetrics  map[int64]int64

	lastReadMu sync.Mutex
	lastRead   map[int64]node.Entry

	policy        atomic.Int32
	kRelaxed      atomic.Int64
	optViewport   atomic.Bool
	optExecTime   atomic.Bool
	optMetrics    atomic.Bool
	optSkipWrite  atomic.Bool
	dbConnectInfo atomic.Value // string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewStateManager creates a state manager for dashID from the given
// dependency list and installs the initial sentinel snapshot at
// node.StartTS, exactly as spec section 6's create_state describes.
func NewStateManager(dashID int64, deps []graph.Dependency, opts Options, log *logrus.Entry) (*StateManager, error) {
	g := graph.New()
	for _, d := range deps {
		if err := g.Insert(d); err != nil {
			return nil, errors.WithMessagef(err, "dashboard %d", dashID)
		}
	}
	g.CreateInitialSnapshot(node.StartTS)

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sm := &StateManager{
		dashID:        dashID,
		graph:         g,
		log:           log.WithField("dashboard_id", dashID),
		curTS:         node.StartTS,
		lastSubmitted: node.StartTS,
		lastCommitted: node.StartTS,
		numIVs:        make(map[int64]int),
		viewPortTime:  make(map[int64]map[int64]int64),
		nodeMetrics:   make(map[int64]int64),
		lastRead:      make(map[int64]node.Entry),
		rng:           rand.New(rand.NewSource(1)),
	}
	sm.applyOptions(opts)
	return sm, nil
}

func (sm *StateManager) applyOptions(opts Options) {
	if opts.DBConnectInfo == "" {
		opts.OptExecTime = false
	}
	sm.policy.Store(int32(opts.Policy))
	sm.kRelaxed.Store(int64(opts.KRelaxed))
	sm.optViewport.Store(opts.OptViewport)
	sm.optExecTime.Store(opts.OptExecTime)
	sm.optMetrics.Store(opts.OptMetrics)
	sm.optSkipWrite.Store(opts.OptSkipWrite)
	sm.dbConnectInfo.Store(opts.DBConnectInfo)
}

// Configure reconfigures the dashboard's read policy and optimization
// flags, exactly as spec section 6's config operation describes: an
// empty DBConnectInfo forces OptExecTime off.
func (sm *StateManager) Configure(opts Options) {
	sm.applyOptions(opts)
}

func (sm *StateManager) policyValue() Policy    { return Policy(sm.policy.Load()) }
func (sm *StateManager) kRelaxedValue() int64   { return sm.kRelaxed.Load() }
func (sm *StateManager) skipWriteEnabled() bool { return sm.optSkipWrite.Load() }

// DashboardID returns the id this state manager was created for.
func (sm *StateManager) DashboardID() int64 { return sm.dashID }

// DBConnectInfo returns the connection string configured via Configure,
// or "" if none was set (in which case OptExecTime is always false).
func (sm *StateManager) DBConnectInfo() string {
	v, _ := sm.dbConnectInfo.Load().(string)
	return v
}

// OptExecTime reports whether cost-weighted scheduling is enabled.
func (sm *StateManager) OptExecTime() bool { return sm.optExecTime.Load() }

// SetRand injects a deterministic RNG, for reproducible tests of the
// tie-breaking behavior in TopPriority (spec section 9's "Random
// tie-break in metrics scheduler" re-architecture note).
func (sm *StateManager) SetRand(r *rand.Rand) {
	sm.rngMu.Lock()
	defer sm.rngMu.Unlock()
	sm.rng = r
}

// SubmitTxn allocates a timestamp, expands the impacted set via the
// graph's BFS closure, installs placeholders on impacted Viz nodes,
// and records per-node attention. See spec section 4.3.
func (sm *StateManager) SubmitTxn(seedIDs, viewportIDs []int64, duration int64) (int64, Impacted, error) {
	viewport := make(map[int64]bool, len(viewportIDs))
	for _, id := range viewportIDs {
		viewport[id] = true
	}

	sm.globalMu.Lock()
	sm.curTS++
	ts := sm.curTS
	sm.lastSubmitted = ts
	impacted, err := sm.graph.CreateSnapshotPlaceholder(seedIDs, ts)
	if err != nil {
		sm.curTS--
		sm.lastSubmitted = ts - 1
		sm.globalMu.Unlock()
		return 0, Impacted{}, err
	}
	// num_ivs counts outstanding placeholders at ts: the Viz nodes
	// reached by this refresh's BFS closure, each awaiting exactly one
	// FinishUpdate. This is computed from the BFS result rather than
	// len(seedIDs) -- spec section 3 defines num_ivs as "count of
	// outstanding placeholders," and seeds may themselves be BaseTable
	// or Filter nodes (see spec section 8 scenario 1), so the two
	// counts generally differ.
	sm.numIVs[ts] = len(impacted.Vizzes)
	sm.globalMu.Unlock()

	all := make([]int64, 0, len(impacted.BaseTables)+len(impacted.Filters)+len(impacted.Vizzes))
	all = append(all, impacted.BaseTables...)
	all = append(all, impacted.Filters...)
	all = append(all, impacted.Vizzes...)

	sm.metaMu.Lock()
	cells := make(map[int64]int64, len(all))
	for _, id := range all {
		if viewport[id] {
			cells[id] = duration
		} else {
			cells[id] = 0
		}
	}
	sm.viewPortTime[ts] = cells
	sm.metaMu.Unlock()

	refreshSubmitted.WithLabelValues(sm.label()).Inc()
	outstandingPlaceholders.WithLabelValues(sm.label()).Set(float64(len(impacted.Vizzes)))

	return ts, Impacted{
		BaseTables: impacted.BaseTables,
		Filters:    impacted.Filters,
		Vizzes:     impacted.Vizzes,
	}, nil
}

// FinishUpdate installs a concrete Version for a node at ts and
// decrements the outstanding-placeholder count for that ts.
func (sm *StateManager) FinishUpdate(nodeID, ts int64, code int, result any) error {
	if err := sm.graph.AddVersion(nodeID, ts, code, result); err != nil {
		return err
	}
	sm.globalMu.Lock()
	sm.numIVs[ts]--
	remaining := sm.numIVs[sm.lastSubmitted]
	sm.globalMu.Unlock()

	if code != 200 {
		refreshNodeErrors.WithLabelValues(sm.label()).Inc()
	}
	outstandingPlaceholders.WithLabelValues(sm.label()).Set(float64(remaining))
	return nil
}

// CommitTxn advances last_committed to ts. Monotonicity is the
// scheduler's responsibility (spec section 4.3): the scheduler only
// calls this with max(finished_ts) once a dependency closure is
// complete.
func (sm *StateManager) CommitTxn(ts int64) {
	sm.globalMu.Lock()
	sm.lastCommitted = ts
	sm.globalMu.Unlock()
}

// LastCommitted returns the most recently committed timestamp.
func (sm *StateManager) LastCommitted() int64 {
	sm.globalMu.Lock()
	defer sm.globalMu.Unlock()
	return sm.lastCommitted
}

// LastSubmitted returns the most recently allocated timestamp.
func (sm *StateManager) LastSubmitted() int64 {
	sm.globalMu.Lock()
	defer sm.globalMu.Unlock()
	return sm.lastSubmitted
}

// TopPriority implements get_top_priority_node from spec section 4.5 /
// the original ds_state_manager.py, with the OptMetrics branch added by
// spec section 4.5 step 3(b).
func (sm *StateManager) TopPriority(ts int64, nodeIDs []int64, cost map[int64]int) (int64, error) {
	if len(nodeIDs) == 0 {
		return 0, errors.New("ace: TopPriority called with no candidate nodes")
	}

	if sm.optMetrics.Load() {
		return sm.topPriorityByMetrics(nodeIDs), nil
	}
	if !sm.optViewport.Load() && !sm.optExecTime.Load() {
		return sm.randomChoice(nodeIDs), nil
	}

	sm.metaMu.Lock()
	defer sm.metaMu.Unlock()

	optViewport := sm.optViewport.Load()
	optExecTime := sm.optExecTime.Load()

	var best int64
	maxPriority := -1.0
	for _, id := range nodeIDs {
		viewTime := int64(1)
		if optViewport {
			if cells, ok := sm.viewPortTime[ts]; ok {
				viewTime = cells[id]
			} else {
				viewTime = 0
			}
		}
		execCost := 1
		if optExecTime {
			if c, ok := cost[id]; ok {
				execCost = c
			} else {
				execCost = 1
			}
		}
		if execCost == 0 {
			execCost = 1
		}
		priority := float64(viewTime) / float64(execCost)
		if priority > maxPriority {
			maxPriority = priority
			best = id
		}
	}
	return best, nil
}

func (sm *StateManager) topPriorityByMetrics(nodeIDs []int64) int64 {
	sm.metaMu.Lock()
	maxMetric := int64(-1)
	var tied []int64
	anyMetric := false
	for _, id := range nodeIDs {
		m, ok := sm.nodeMetrics[id]
		if !ok {
			continue
		}
		anyMetric = true
		if m > maxMetric {
			maxMetric = m
			tied = tied[:0]
			tied = append(tied, id)
		} else if m == maxMetric {
			tied = append(tied, id)
		}
	}
	sm.metaMu.Unlock()

	if !anyMetric {
		return sm.randomChoice(nodeIDs)
	}
	return sm.randomChoice(tied)
}

func (sm *StateManager) randomChoice(nodeIDs []int64) int64 {
	sm.rngMu.Lock()
	defer sm.rngMu.Unlock()
	return nodeIDs[sm.rng.Intn(len(nodeIDs))]
}

// recordAttention adds duration to view_port_time[ts][node] for every
// ts in (lastCommitted, lastSubmitted] that has a cell for that node,
// and to the lifetime node_metrics counter. Grounded on
// ds_state_manager.py's read_view_port attention-update block.
func (sm *StateManager) recordAttention(nodeIDs []int64, lastCommitted, lastSubmitted, duration int64) {
	sm.metaMu.Lock()
	defer sm.metaMu.Unlock()
	for ts := lastCommitted + 1; ts <= lastSubmitted; ts++ {
		cells, ok := sm.viewPortTime[ts]
		if !ok {
			continue
		}
		for _, id := range nodeIDs {
			if _, present := cells[id]; present {
				cells[id] += duration
			}
		}
	}
	for _, id := range nodeIDs {
		sm.nodeMetrics[id] += duration
	}
}

func (sm *StateManager) label() string {
	return strconv.FormatInt(sm.dashID, 10)
}

func ivCount(snapshot map[int64]node.Entry) int {
	n := 0
	for _, e := range snapshot {
		if e.Placeholder() {
			n++
		}
	}
	return n
}

// ReadViewport implements read_view_port from spec section 4.4: it
// snapshots last_committed/last_submitted, updates attention, selects a
// candidate snapshot per the configured policy, filters it through the
// last-read suppression, and returns {ts: last_committed, snapshot}.
func (sm *StateManager) ReadViewport(nodeIDs []int64, duration int64) (ReadResult, error) {
	sm.globalMu.Lock()
	lastCommitted := sm.lastCommitted
	lastSubmitted := sm.lastSubmitted

	var gcnbTS int64
	if sm.policyValue() == GCNB {
		gcnbTS = sm.selectGCNBTimestamp(lastCommitted, lastSubmitted)
	}
	sm.globalMu.Unlock()

	sm.recordAttention(nodeIDs, lastCommitted, lastSubmitted, duration)

	var (
		candidate map[int64]node.Entry
		err       error
	)
	switch sm.policyValue() {
	case ICNB:
		candidate, err = sm.graph.ReadVisibleVersions(nodeIDs)
	case GCNB:
		candidate, err = sm.graph.ReadSnapshot(gcnbTS, nodeIDs)
	case LCMB:
		candidate, err = sm.selectLCMBSnapshot(nodeIDs, lastSubmitted)
	case GCPB:
		candidate, err = sm.graph.ReadSnapshot(lastSubmitted, nodeIDs)
	case CMVA:
		candidate, err = sm.selectCMVASnapshot(nodeIDs, lastCommitted, lastSubmitted)
	default:
		candidate, err = sm.graph.ReadVisibleVersions(nodeIDs)
	}
	if err != nil {
		return ReadResult{}, err
	}

	readsTotal.WithLabelValues(sm.label(), sm.policyValue().String()).Inc()

	return ReadResult{
		TS:       lastCommitted,
		Snapshot: sm.updateLastRead(candidate),
	}, nil
}

// selectGCNBTimestamp must be called with globalMu held: it walks ts
// from lastSubmitted down to lastCommitted and picks the largest ts
// with at most KRelaxed outstanding placeholders, falling back to
// lastCommitted.
func (sm *StateManager) selectGCNBTimestamp(lastCommitted, lastSubmitted int64) int64 {
	k := sm.kRelaxedValue()
	for ts := lastSubmitted; ts > lastCommitted; ts-- {
		if int64(sm.numIVs[ts]) <= k {
			return ts
		}
	}
	return lastCommitted
}

// selectLCMBSnapshot implements the LCMB policy from spec section
// 4.4.1: among ts in [tsLower, lastSubmitted], let m = min IV(ss(ts));
// pick the snapshot with largest ts satisfying IV <= m + k. tsLower is
// max(START_TS, max ts over requested nodes' last_read entries) --
// spec section 9 flags this as deliberately coupling readers that
// share nodes; kept as specified.
func (sm *StateManager) selectLCMBSnapshot(nodeIDs []int64, lastSubmitted int64) (map[int64]node.Entry, error) {
	tsLower := sm.tsLowerFromLastRead(nodeIDs)

	type window struct {
		ts       int64
		snapshot map[int64]node.Entry
		iv       int
	}
	var windows []window
	minIV := math.MaxInt
	for ts := tsLower; ts <= lastSubmitted; ts++ {
		ss, err := sm.graph.ReadSnapshot(ts, nodeIDs)
		if err != nil {
			return nil, err
		}
		iv := ivCount(ss)
		windows = append(windows, window{ts: ts, snapshot: ss, iv: iv})
		if iv < minIV {
			minIV = iv
		}
	}

	k := int(sm.kRelaxedValue())
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].iv <= minIV+k {
			return windows[i].snapshot, nil
		}
	}
	// Unreachable in practice: the window always contains its own
	// minimum, which trivially satisfies iv <= minIV+k.
	return windows[len(windows)-1].snapshot, nil
}

// selectCMVASnapshot implements the CMVA policy from spec section
// 4.4.1: among ts in [lastCommitted, lastSubmitted], pick the snapshot
// with largest ts satisfying IV(ss) <= k.
func (sm *StateManager) selectCMVASnapshot(nodeIDs []int64, lastCommitted, lastSubmitted int64) (map[int64]node.Entry, error) {
	k := int(sm.kRelaxedValue())
	var fallback map[int64]node.Entry
	for ts := lastSubmitted; ts >= lastCommitted; ts-- {
		ss, err := sm.graph.ReadSnapshot(ts, nodeIDs)
		if err != nil {
			return nil, err
		}
		if fallback == nil {
			fallback = ss
		}
		if ivCount(ss) <= k {
			return ss, nil
		}
	}
	return fallback, nil
}

func (sm *StateManager) tsLowerFromLastRead(nodeIDs []int64) int64 {
	sm.lastReadMu.Lock()
	defer sm.lastReadMu.Unlock()
	tsLower := node.StartTS
	for _, id := range nodeIDs {
		if e, ok := sm.lastRead[id]; ok && e.TS() > tsLower {
			tsLower = e.TS()
		}
	}
	return tsLower
}

// updateLastRead implements _update_last_read from spec section 4.4.2:
// an entry is emitted (included in the returned snapshot) only if it is
// new, at a different ts than last seen, or an upgrade from placeholder
// to version at the same ts; the stored last-read entry is updated in
// every case.
func (sm *StateManager) updateLastRead(snapshot map[int64]node.Entry) map[int64]node.Entry {
	sm.lastReadMu.Lock()
	defer sm.lastReadMu.Unlock()

	out := make(map[int64]node.Entry, len(snapshot))
	for id, next := range snapshot {
		prev, had := sm.lastRead[id]
		emit := !had ||
			prev.TS() != next.TS() ||
			(prev.TS() == next.TS() && prev.Placeholder() && !next.Placeholder())
		if emit {
			out[id] = next
		}
		sm.lastRead[id] = next
	}
	return out
}

// GC reclaims versions no longer reachable by any future read, per
// spec section 4.6: prune(last_submitted) on every node, then drop the
// per-ts attention/placeholder-count bookkeeping for ts < last_committed.
// Returns the number of node entries reclaimed, for the GC metric.
func (sm *StateManager) GC() int {
	sm.globalMu.Lock()
	ls := sm.lastSubmitted
	lc := sm.lastCommitted
	sm.globalMu.Unlock()

	reclaimed := sm.graph.CleanUnusedVersions(ls)

	sm.globalMu.Lock()
	for ts := range sm.numIVs {
		if ts < lc {
			delete(sm.numIVs, ts)
		}
	}
	sm.globalMu.Unlock()

	sm.metaMu.Lock()
	for ts := range sm.viewPortTime {
		if ts < lc {
			delete(sm.viewPortTime, ts)
		}
	}
	sm.metaMu.Unlock()

	gcReclaimed.WithLabelValues(sm.label()).Add(float64(reclaimed))
	return reclaimed
}

// Graph exposes the underlying dependency graph for operations (read
// charts against an arbitrary ts, inspecting node kinds) that don't fit
// neatly as StateManager methods. Exported for the server and engine
// packages; not part of the core read/write protocol itself.
func (sm *StateManager) Graph() *graph.Graph { return sm.graph }
