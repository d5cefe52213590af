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
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transactional-panorama/ace/internal/graph"
	"github.com/transactional-panorama/ace/internal/node"
)

// Engine composes a Registry with the external Computer/Estimator
// collaborators and exposes the five operations of spec section 6 as
// plain Go methods. internal/server wraps these as HTTP handlers;
// cmd/acedriver constructs one Engine per process.
type Engine struct {
	registry   *Registry
	computer   Computer
	estimator  Estimator
	log        *logrus.Entry
	gcInterval time.Duration
}

// NewEngine builds an Engine around computer/estimator, the opaque
// chart-execution and cost-estimation collaborators from spec section
// 1. Every dashboard it creates runs its own periodic GC goroutine
// (spec section 5's "GC is triggered externally"); pass a non-positive
// gcInterval to disable it.
func NewEngine(computer Computer, estimator Estimator, log *logrus.Entry, gcInterval time.Duration) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		registry:   NewRegistry(),
		computer:   computer,
		estimator:  estimator,
		log:        log,
		gcInterval: gcInterval,
	}
}

// CreateState implements spec section 6's create_state: initializes a
// state manager and starts its scheduler and periodic GC goroutine.
func (e *Engine) CreateState(ctx context.Context, dashID int64, deps []graph.Dependency) error {
	_, err := e.registry.Create(ctx, dashID, deps, DefaultOptions(), e.computer, e.estimator, e.log, e.gcInterval)
	return err
}

// Config implements spec section 6's config.
func (e *Engine) Config(dashID int64, opts Options) error {
	sm, _, ok := e.registry.Get(dashID)
	if !ok {
		return ErrUnknownDashboard
	}
	sm.Configure(opts)
	return nil
}

// SubmitRefresh implements spec section 6's submit_refresh: it submits
// the transaction against the dashboard's state manager and enqueues
// the resulting job on its scheduler.
func (e *Engine) SubmitRefresh(
	dashID int64, nodesToRefresh, nodesInViewport []int64, formDataPerNode map[int64]any, duration int64,
) (int64, error) {
	sm, sched, ok := e.registry.Get(dashID)
	if !ok {
		return 0, ErrUnknownDashboard
	}

	ts, impacted, err := sm.SubmitTxn(nodesToRefresh, nodesInViewport, duration)
	if err != nil {
		return 0, err
	}

	sched.Submit(Job{
		TS:       ts,
		Impacted: impacted,
		FormData: formDataPerNode,
	})
	return ts, nil
}

// ChartEntry is the external-boundary serialization of a node.Entry:
// "IV" for a placeholder, the concrete result object for a version.
// Spec section 9's REDESIGN FLAGS call for the internal representation
// to stay a tagged union (node.Entry) and for "IV" to be produced only
// here, at the boundary.
type ChartEntry struct {
	TS            int64
	VersionResult any
}

// ReadCharts implements spec section 6's read_charts.
func (e *Engine) ReadCharts(dashID int64, nodesToRead []int64, duration int64) (int64, map[int64]ChartEntry, error) {
	sm, _, ok := e.registry.Get(dashID)
	if !ok {
		return 0, nil, ErrUnknownDashboard
	}

	res, err := sm.ReadViewport(nodesToRead, duration)
	if err != nil {
		return 0, nil, err
	}

	out := make(map[int64]ChartEntry, len(res.Snapshot))
	for id, e := range res.Snapshot {
		out[id] = serializeEntry(e)
	}
	return res.TS, out, nil
}

func serializeEntry(e node.Entry) ChartEntry {
	if e.Placeholder() {
		return ChartEntry{TS: e.TS(), VersionResult: IVTag}
	}
	v := e.(node.Version)
	return ChartEntry{TS: v.Ts, VersionResult: map[string]any{
		"response_code": v.Code,
		"response":      v.Result,
	}}
}

// DeleteState implements spec section 6's delete_state.
func (e *Engine) DeleteState(dashID int64) error {
	return e.registry.Delete(dashID)
}

// GC runs a garbage-collection pass against a single dashboard.
func (e *Engine) GC(dashID int64) (int, error) {
	sm, _, ok := e.registry.Get(dashID)
	if !ok {
		return 0, ErrUnknownDashboard
	}
	return sm.GC(), nil
}

// Registry exposes the underlying Registry for callers (tests, the
// periodic GC driver) that need direct access to a dashboard's
// StateManager/Scheduler pair.
func (e *Engine) Registry() *Registry { return e.registry }
