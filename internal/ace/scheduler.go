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
)

// Job is one queued refresh: the timestamp SubmitTxn allocated for it,
// the Impacted groups from that call, and the per-node form data the
// caller supplied.
type Job struct {
	TS       int64
	Impacted Impacted
	FormData map[int64]any
}

// Scheduler is the long-running per-dashboard worker described in spec
// section 4.5: it drains a FIFO queue of refresh jobs, orders node
// recomputation by priority, honors the skip-write optimization, and
// commits once a ts's dependency closure is complete.
//
// Unlike the Python source's sleep-and-poll loop, Run blocks on a
// channel until a job is queued or shutdown is requested (spec section
// 9's "Scheduler queue" re-architecture note); this changes no
// observable ordering.
type Scheduler struct {
	sm        *StateManager
	computer  Computer
	estimator Estimator
	log       *logrus.Entry

	mu          sync.Mutex
	queue       []Job
	finishedTS  map[int64]struct{}
	dependentTS map[int64]struct{}

	wake     chan struct{}
	stopping chan struct{}
	stopped  chan struct{}
}

// NewScheduler constructs a Scheduler for sm, using computer/estimator
// as the opaque compute/estimate collaborators from spec section 6.
func NewScheduler(sm *StateManager, computer Computer, estimator Estimator) *Scheduler {
	return &Scheduler{
		sm:          sm,
		computer:    computer,
		estimator:   estimator,
		log:         sm.log,
		finishedTS:  make(map[int64]struct{}),
		dependentTS: make(map[int64]struct{}),
		wake:        make(chan struct{}, 1),
		stopping:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Submit enqueues a job. Safe to call concurrently with Run.
func (s *Scheduler) Submit(job Job) {
	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stopping returns a channel closed once Shutdown has been called,
// mirroring the teacher's Events.Stopping() <-chan struct{} signal
// (internal/source/logical/chaos.go).
func (s *Scheduler) Stopping() <-chan struct{} { return s.stopping }

// Shutdown requests cooperative termination: the worker loop exits at
// its next iteration and jobs queued after shutdown are dropped, per
// spec section 4.5. It blocks until Run has returned.
func (s *Scheduler) Shutdown() {
	select {
	case <-s.stopping:
	default:
		close(s.stopping)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.stopped
}

// Run drains the queue until Shutdown is called or ctx is canceled. It
// is intended to be the body of the one goroutine a dashboard owns for
// its whole lifetime (spec section 3, Scheduler lifecycle).
//
// No watchdog bounds a stall caused by a job whose dependentTS
// references a ts that never arrives (spec section 9, second open
// question) -- this is left unbounded, as the source leaves it
// unbounded.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		job, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.stopping:
				return
			case <-s.wake:
				continue
			}
		}

		if err := s.runJob(ctx, job); err != nil {
			s.log.WithError(err).WithField("ts", job.TS).Warn("refresh job aborted")
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopping:
			return
		default:
		}
	}
}

func (s *Scheduler) pop() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Job{}, false
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, true
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	vizIDs := append([]int64(nil), job.Impacted.Vizzes...)
	cost := s.estimateCosts(ctx, vizIDs, job.FormData)

	for len(vizIDs) > 0 {
		vizIDs = s.skipWrites(job.TS, vizIDs)
		if len(vizIDs) == 0 {
			break
		}

		chosen, err := s.sm.TopPriority(job.TS, vizIDs, cost)
		if err != nil {
			return err
		}

		s.computeAndFinish(ctx, job.TS, chosen, job.FormData[chosen])
		vizIDs = removeID(vizIDs, chosen)
	}

	s.mu.Lock()
	s.finishedTS[job.TS] = struct{}{}
	s.dependentTS[job.TS] = struct{}{}
	ready := subsetOf(s.dependentTS, s.finishedTS)
	var maxFinished int64
	if ready {
		maxFinished = maxKey(s.finishedTS)
		s.finishedTS = make(map[int64]struct{})
		s.dependentTS = make(map[int64]struct{})
	}
	s.mu.Unlock()

	if ready {
		s.sm.CommitTxn(maxFinished)
	}
	return nil
}

// skipWrites implements skip_chart_refresh from spec section 4.5(a):
// for every still-queued job whose Viz set contains any of vizIDs,
// those ids are elided from the current batch (a later refresh will
// redo the work anyway) and the other job's ts is recorded as a
// dependent of this one.
func (s *Scheduler) skipWrites(ts int64, vizIDs []int64) []int64 {
	if !s.sm.skipWriteEnabled() {
		return vizIDs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[int64]bool, len(vizIDs))
	for _, id := range vizIDs {
		pending[id] = true
	}
	for _, job := range s.queue {
		for _, id := range job.Impacted.Vizzes {
			if pending[id] {
				delete(pending, id)
				s.dependentTS[job.TS] = struct{}{}
			}
		}
	}

	kept := make([]int64, 0, len(pending))
	for _, id := range vizIDs {
		if pending[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

func (s *Scheduler) estimateCosts(ctx context.Context, vizIDs []int64, formData map[int64]any) map[int64]int {
	if !s.sm.OptExecTime() || s.estimator == nil {
		return nil
	}
	cost := make(map[int64]int, len(vizIDs))
	for _, id := range vizIDs {
		c, err := s.estimator.Estimate(ctx, id, formData[id])
		if err != nil {
			s.log.WithError(err).WithField("node_id", id).Debug("cost estimator failed, using default costs")
			return nil
		}
		cost[id] = c
	}
	return cost
}

func (s *Scheduler) computeAndFinish(ctx context.Context, ts, nodeID int64, formData any) {
	start := time.Now()
	code, result, err := s.computer.Compute(ctx, nodeID, formData)
	refreshNodeDuration.WithLabelValues(s.sm.label()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"ts": ts, "node_id": nodeID}).
			Warn("compute failed; installing a 400 version")
		code = 400
		result = err.Error()
	}
	if ferr := s.sm.FinishUpdate(nodeID, ts, code, result); ferr != nil {
		s.log.WithError(ferr).WithFields(logrus.Fields{"ts": ts, "node_id": nodeID}).
			Warn("finish_update failed; node left without a version for this ts")
	}
}

func removeID(ids []int64, target int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func subsetOf(a, b map[int64]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func maxKey(m map[int64]struct{}) int64 {
	first := true
	var max int64
	for k := range m {
		if first || k > max {
			max = k
			first = false
		}
	}
	return max
}
