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

package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/transactional-panorama/ace/internal/ace"
	"github.com/transactional-panorama/ace/internal/compute"
	"github.com/transactional-panorama/ace/internal/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	engine := ace.NewEngine(compute.NewStaticComputer(), &compute.LatencyEstimator{}, nil, 0)
	return server.New(engine, nil)
}

func doJSON(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(t)

	createBody := map[string]any{
		"dependencies": []map[string]any{
			{"precedent_id": 1, "precedent_kind": "base_table", "dependent_id": 2, "dependent_kind": "filter"},
			{"precedent_id": 2, "precedent_kind": "filter", "dependent_id": 3, "dependent_kind": "viz"},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/dash/1", createBody)
	r.Equal(http.StatusCreated, rec.Code)

	refreshBody := map[string]any{
		"nodes_to_refresh":  []int64{1},
		"nodes_in_viewport": []int64{3},
		"duration_millis":   5,
	}
	rec = doJSON(t, srv, http.MethodPost, "/dash/1/refresh", refreshBody)
	r.Equal(http.StatusAccepted, rec.Code)

	var submitResp struct {
		TS int64 `json:"ts"`
	}
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &submitResp))
	r.Equal(int64(0), submitResp.TS)

	// node 3 has no registered compute function in the static computer,
	// so the scheduler resolves it to a 400 version almost immediately;
	// poll read_charts until it's no longer an unresolved placeholder or
	// the test's own deadline trips.
	deadline := time.Now().Add(time.Second)
	var chartsResp struct {
		TS     int64 `json:"ts"`
		Charts map[string]struct {
			TS            int64 `json:"ts"`
			VersionResult any   `json:"version_result"`
		} `json:"charts"`
	}
	for time.Now().Before(deadline) {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/dash/1/charts?nodes=3", nil)
		srv.ServeHTTP(rec, req)
		r.Equal(http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chartsResp))
		if c, ok := chartsResp.Charts["3"]; ok && c.VersionResult != ace.IVTag {
			break
		}
		time.Sleep(time.Millisecond)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/dash/1", nil)
	r.Equal(http.StatusNoContent, rec.Code)
}

func TestCreateStateRejectsUnknownKind(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(t)

	body := map[string]any{
		"dependencies": []map[string]any{
			{"precedent_id": 1, "precedent_kind": "bogus", "dependent_id": 2, "dependent_kind": "filter"},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/dash/1", body)
	r.Equal(http.StatusBadRequest, rec.Code)
}

func TestOperationsOnUnknownDashboardAre404(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodDelete, "/dash/999", nil)
	r.Equal(http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/dash/999/charts?nodes=1", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	r.Equal(http.StatusNotFound, rec.Code)
}
