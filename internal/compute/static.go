// Copyright 2023 The Cockroach Authors
//
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

// Package compute holds reference implementations of ace.Computer and
// ace.Estimator: the opaque compute/cost collaborators that spec
// section 6 leaves external to the core engine. None of these model a
// real warehouse; they exist so the engine is runnable end to end in
// tests, demos, and cmd/acedriver without a live compute backend.
package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// ComputeFunc resolves a single node's form data into a (code, result)
// pair, mirroring the signature of ace.Computer.Compute minus the
// node id, which StaticComputer supplies from its registration.
type ComputeFunc func(ctx context.Context, formData any) (code int, result any, err error)

// StaticComputer dispatches to a fixed, per-node table of ComputeFuncs.
// It is the in-memory stand-in for the original source's
// ace_driver/dash_behavior harness: every node a test cares about gets
// a registered function; anything else resolves with a 400.
type StaticComputer struct {
	mu    sync.RWMutex
	funcs map[int64]ComputeFunc
}

// NewStaticComputer returns a StaticComputer with no nodes registered.
func NewStaticComputer() *StaticComputer {
	return &StaticComputer{funcs: make(map[int64]ComputeFunc)}
}

// Register binds fn as the compute function for nodeID. Safe to call
// concurrently with Compute.
func (c *StaticComputer) Register(nodeID int64, fn ComputeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[nodeID] = fn
}

// Compute implements ace.Computer. A fn returning an error, or no fn
// registered for nodeID, is mapped to (400, message) rather than
// propagated as a transport error, per spec section 7's "compute
// errors surface as a version with a non-2xx code" contract.
func (c *StaticComputer) Compute(ctx context.Context, nodeID int64, formData any) (int, any, error) {
	c.mu.RLock()
	fn, ok := c.funcs[nodeID]
	c.mu.RUnlock()
	if !ok {
		return 400, fmt.Sprintf("no compute function registered for node %d", nodeID), nil
	}

	code, result, err := fn(ctx, formData)
	if err != nil {
		return 400, err.Error(), nil
	}
	return code, result, nil
}

// ErrMissingCostConvention is returned by LatencyEstimator when
// form_data does not follow the map[string]any{"cost": int} shape, to
// exercise the "estimator failure clears the cost map" path described
// in spec sections 4.5 and 7.
var ErrMissingCostConvention = errors.New("compute: form_data has no usable cost")

// LatencyEstimator is a best-effort ace.Estimator: it reads a per-node
// base cost out of form_data's "cost" key. A nil form_data falls back to
// Default (or 1); any other form_data without a numeric "cost" key is an
// error wrapping ErrMissingCostConvention.
// Grounded on ace_driver/dash_behavior's synthetic cost model in the
// original source.
type LatencyEstimator struct {
	// Default is returned when formData is nil. Zero means 1.
	Default int
}

// Estimate implements ace.Estimator.
func (e *LatencyEstimator) Estimate(ctx context.Context, nodeID int64, formData any) (int, error) {
	if formData == nil {
		if e.Default > 0 {
			return e.Default, nil
		}
		return 1, nil
	}
	m, ok := formData.(map[string]any)
	if !ok {
		return 0, errors.WithMessagef(ErrMissingCostConvention, "node %d: form_data is a %T, not map[string]any", nodeID, formData)
	}
	v, ok := m["cost"]
	if !ok {
		return 0, errors.WithMessagef(ErrMissingCostConvention, "node %d: no \"cost\" key", nodeID)
	}
	switch c := v.(type) {
	case int:
		return c, nil
	case int64:
		return int(c), nil
	case float64:
		return int(c), nil
	default:
		return 0, errors.WithMessagef(ErrMissingCostConvention, "node %d: \"cost\" is a %T, not numeric", nodeID, v)
	}
}
