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

package server

import (
	"github.com/pkg/errors"
	"github.com/transactional-panorama/ace/internal/ace"
	"github.com/transactional-panorama/ace/internal/node"
)

// dependencyDTO is the wire shape of one graph.Dependency.
type dependencyDTO struct {
	PrecedentID   int64  `json:"precedent_id"`
	PrecedentKind string `json:"precedent_kind"`
	DependentID   int64  `json:"dependent_id"`
	DependentKind string `json:"dependent_kind"`
}

// createStateRequest is the body of POST /dash/{id}.
type createStateRequest struct {
	Dependencies []dependencyDTO `json:"dependencies"`
}

// configRequest is the body of PUT /dash/{id}/config.
type configRequest struct {
	Policy        string `json:"policy"`
	KRelaxed      int    `json:"k_relaxed"`
	OptViewport   bool   `json:"opt_viewport"`
	OptExecTime   bool   `json:"opt_exec_time"`
	OptMetrics    bool   `json:"opt_metrics"`
	OptSkipWrite  bool   `json:"opt_skip_write"`
	DBConnectInfo string `json:"db_connect_info"`
}

// submitRefreshRequest is the body of POST /dash/{id}/refresh.
type submitRefreshRequest struct {
	NodesToRefresh  []int64        `json:"nodes_to_refresh"`
	NodesInViewport []int64        `json:"nodes_in_viewport"`
	FormData        map[string]any `json:"form_data"`
	DurationMillis  int64          `json:"duration_millis"`
}

// submitRefreshResponse is the body returned by POST /dash/{id}/refresh.
type submitRefreshResponse struct {
	TS int64 `json:"ts"`
}

// chartDTO is the wire shape of one ace.ChartEntry.
type chartDTO struct {
	TS            int64 `json:"ts"`
	VersionResult any   `json:"version_result"`
}

// readChartsResponse is the body returned by GET /dash/{id}/charts.
type readChartsResponse struct {
	TS     int64              `json:"ts"`
	Charts map[int64]chartDTO `json:"charts"`
}

// errorResponse is the body returned for any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func parseKind(s string) (node.Kind, error) {
	switch s {
	case "base_table":
		return node.BaseTable, nil
	case "filter":
		return node.Filter, nil
	case "viz":
		return node.Viz, nil
	default:
		return 0, errors.Errorf("unrecognized node kind %q", s)
	}
}

func parsePolicy(s string) (ace.Policy, error) {
	switch s {
	case "", "ICNB":
		return ace.ICNB, nil
	case "GCNB":
		return ace.GCNB, nil
	case "LCMB":
		return ace.LCMB, nil
	case "GCPB":
		return ace.GCPB, nil
	case "CMVA":
		return ace.CMVA, nil
	default:
		return 0, errors.Errorf("unrecognized policy %q", s)
	}
}

func toChartDTOs(charts map[int64]ace.ChartEntry) map[int64]chartDTO {
	out := make(map[int64]chartDTO, len(charts))
	for id, c := range charts {
		out[id] = chartDTO{TS: c.TS, VersionResult: c.VersionResult}
	}
	return out
}
