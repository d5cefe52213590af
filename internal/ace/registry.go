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
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transactional-panorama/ace/internal/graph"
)

// dashboard bundles the per-dashboard StateManager and Scheduler that
// the Registry keys by dashboard id, along with the cancel function for
// the goroutine running the scheduler's Run loop.
type dashboard struct {
	sm        *StateManager
	scheduler *Scheduler
	cancel    context.CancelFunc
}

// Registry holds one (StateManager, Scheduler) pair per active
// dashboard, keyed by dashboard id. Grounded on the original source's
// module-level ace_state_manager dict (superset/extensions.py,
// referenced from scheduler.py); spec section 4.1 F names this
// responsibility but the Python source keeps it as bare globals rather
// than a type, so this is where this module's layering necessarily
// diverges in shape, not in behavior.
type Registry struct {
	mu         sync.RWMutex
	dashboards map[int64]*dashboard
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dashboards: make(map[int64]*dashboard)}
}

// Create activates a dashboard: it builds a StateManager over deps,
// starts its Scheduler's Run loop on a dedicated goroutine, registers
// both under dashID, and — if gcInterval is positive — starts a
// periodic GC goroutine against the new StateManager. Both goroutines
// are torn down together on Delete. It is an error to Create a dashID
// that is already registered.
func (r *Registry) Create(
	ctx context.Context, dashID int64, deps []graph.Dependency, opts Options,
	computer Computer, estimator Estimator, log *logrus.Entry, gcInterval time.Duration,
) (*StateManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dashboards[dashID]; exists {
		return nil, ErrAlreadyExists
	}

	sm, err := NewStateManager(dashID, deps, opts, log)
	if err != nil {
		return nil, err
	}
	sched := NewScheduler(sm, computer, estimator)

	runCtx, cancel := context.WithCancel(ctx)
	go sched.Run(runCtx)
	if gcInterval > 0 {
		go RunGCPeriodically(runCtx, sm, gcInterval)
	}

	r.dashboards[dashID] = &dashboard{sm: sm, scheduler: sched, cancel: cancel}
	return sm, nil
}

// Get returns the StateManager and Scheduler for dashID, or false if
// no such dashboard is active.
func (r *Registry) Get(dashID int64) (*StateManager, *Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dashboards[dashID]
	if !ok {
		return nil, nil, false
	}
	return d.sm, d.scheduler, true
}

// Delete shuts down the dashboard's scheduler and releases its state
// manager, per spec section 6's delete_state. The shutdown is
// cooperative and has no timeout: Scheduler.Shutdown waits until the
// in-flight job, if any, has finished and Run has returned, and the
// dashboard's context is canceled only after that.
func (r *Registry) Delete(dashID int64) error {
	r.mu.Lock()
	d, ok := r.dashboards[dashID]
	if ok {
		delete(r.dashboards, dashID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownDashboard
	}
	d.scheduler.Shutdown()
	d.cancel()
	return nil
}

// Ids returns the dashboard ids currently active, for diagnostics.
func (r *Registry) Ids() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.dashboards))
	for id := range r.dashboards {
		ids = append(ids, id)
	}
	return ids
}
