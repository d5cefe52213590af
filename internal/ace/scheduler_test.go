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

package ace_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/transactional-panorama/ace/internal/ace"
	"github.com/transactional-panorama/ace/internal/graph"
	"github.com/transactional-panorama/ace/internal/node"
)

// fanOutDeps is T1 -> {F1 -> V1, F2 -> V2}: one base table feeding two
// independent filter/viz chains, used to exercise priority ordering
// across competing Vizzes in a single refresh.
func fanOutDeps() []graph.Dependency {
	return []graph.Dependency{
		{PrecedentID: 1, PrecedentKind: node.BaseTable, DependentID: 2, DependentKind: node.Filter},
		{PrecedentID: 2, PrecedentKind: node.Filter, DependentID: 3, DependentKind: node.Viz},
		{PrecedentID: 1, PrecedentKind: node.BaseTable, DependentID: 4, DependentKind: node.Filter},
		{PrecedentID: 4, PrecedentKind: node.Filter, DependentID: 5, DependentKind: node.Viz},
	}
}

// recordingComputer resolves every node immediately with a fixed code
// and records the order nodes were computed in, for assertions about
// priority ordering.
type recordingComputer struct {
	mu    sync.Mutex
	order []int64
}

func (c *recordingComputer) Compute(ctx context.Context, nodeID int64, formData any) (int, any, error) {
	c.mu.Lock()
	c.order = append(c.order, nodeID)
	c.mu.Unlock()
	return 200, "ok", nil
}

func (c *recordingComputer) snapshot() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.order...)
}

type fixedEstimator struct {
	cost map[int64]int
}

func (e *fixedEstimator) Estimate(ctx context.Context, nodeID int64, formData any) (int, error) {
	if c, ok := e.cost[nodeID]; ok {
		return c, nil
	}
	return 1, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSchedulerRunsSubmittedJobAndCommits(t *testing.T) {
	r := require.New(t)
	sm := newLinearChainSM(t, ace.DefaultOptions())
	computer := &recordingComputer{}
	sched := ace.NewScheduler(sm, computer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	defer sched.Shutdown()

	ts, impacted, err := sm.SubmitTxn([]int64{1}, []int64{3}, 1)
	r.NoError(err)
	sched.Submit(ace.Job{TS: ts, Impacted: impacted})

	waitFor(t, time.Second, func() bool { return sm.LastCommitted() == ts })
	r.Equal([]int64{3}, computer.snapshot())
}

func TestSchedulerPrioritizesHigherViewportTime(t *testing.T) {
	r := require.New(t)
	sm, err := ace.NewStateManager(1, fanOutDeps(), ace.DefaultOptions(), nil)
	r.NoError(err)
	computer := &recordingComputer{}
	sched := ace.NewScheduler(sm, computer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	defer sched.Shutdown()

	// Only node 5 is in the viewport, with a large duration, so its
	// priority (viewTime/execCost) should dominate node 3's.
	ts, impacted, err := sm.SubmitTxn([]int64{1}, []int64{5}, 10)
	r.NoError(err)
	sched.Submit(ace.Job{TS: ts, Impacted: impacted})

	waitFor(t, time.Second, func() bool { return sm.LastCommitted() == ts })
	r.Equal([]int64{5, 3}, computer.snapshot())
}

func TestSchedulerPrioritizesByCostWhenViewportDisabled(t *testing.T) {
	r := require.New(t)
	opts := ace.Options{
		Policy:        ace.ICNB,
		OptViewport:   false,
		OptExecTime:   true,
		OptSkipWrite:  true,
		DBConnectInfo: "postgres://localhost/ace",
	}
	sm, err := ace.NewStateManager(1, fanOutDeps(), opts, nil)
	r.NoError(err)
	r.True(sm.OptExecTime(), "DBConnectInfo is set, so exec-time weighting stays on")

	computer := &recordingComputer{}
	estimator := &fixedEstimator{cost: map[int64]int{3: 10, 5: 1}}
	sched := ace.NewScheduler(sm, computer, estimator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	defer sched.Shutdown()

	ts, impacted, err := sm.SubmitTxn([]int64{1}, nil, 0)
	r.NoError(err)
	sched.Submit(ace.Job{TS: ts, Impacted: impacted})

	waitFor(t, time.Second, func() bool { return sm.LastCommitted() == ts })
	r.Equal([]int64{5, 3}, computer.snapshot(), "node 5's lower estimated cost gives it higher priority")
}

func TestSchedulerSkipWriteElidesSupersededRefresh(t *testing.T) {
	r := require.New(t)
	sm := newLinearChainSM(t, ace.DefaultOptions())
	computer := &recordingComputer{}
	sched := ace.NewScheduler(sm, computer, nil)

	ts0, impacted0, err := sm.SubmitTxn([]int64{1}, nil, 0)
	r.NoError(err)
	ts1, impacted1, err := sm.SubmitTxn([]int64{1}, nil, 0)
	r.NoError(err)

	// Both jobs are queued before the scheduler goroutine starts, so
	// when it pops ts0, ts1 is already sitting in the queue: ts0's
	// refresh of node 3 must be elided in favor of ts1's, per spec
	// section 4.5(a).
	sched.Submit(ace.Job{TS: ts0, Impacted: impacted0})
	sched.Submit(ace.Job{TS: ts1, Impacted: impacted1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	defer sched.Shutdown()

	waitFor(t, time.Second, func() bool { return sm.LastCommitted() == ts1 })
	order := computer.snapshot()
	r.Len(order, 1, "node 3 should be computed exactly once, for ts1 only")
	r.Equal(int64(3), order[0])
}
