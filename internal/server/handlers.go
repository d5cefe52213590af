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
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/transactional-panorama/ace/internal/ace"
	"github.com/transactional-panorama/ace/internal/graph"
)

func (s *Server) handleCreateState(w http.ResponseWriter, r *http.Request) {
	dashID, ok := s.pathDashID(w, r)
	if !ok {
		return
	}

	var req createStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	deps := make([]graph.Dependency, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		precKind, err := parseKind(d.PrecedentKind)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		depKind, err := parseKind(d.DependentKind)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		deps = append(deps, graph.Dependency{
			PrecedentID:   d.PrecedentID,
			PrecedentKind: precKind,
			DependentID:   d.DependentID,
			DependentKind: depKind,
		})
	}

	if err := s.engine.CreateState(r.Context(), dashID, deps); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	dashID, ok := s.pathDashID(w, r)
	if !ok {
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	policy, err := parsePolicy(req.Policy)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := ace.Options{
		Policy:        policy,
		KRelaxed:      req.KRelaxed,
		OptViewport:   req.OptViewport,
		OptExecTime:   req.OptExecTime,
		OptMetrics:    req.OptMetrics,
		OptSkipWrite:  req.OptSkipWrite,
		DBConnectInfo: req.DBConnectInfo,
	}
	if err := s.engine.Config(dashID, opts); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitRefresh(w http.ResponseWriter, r *http.Request) {
	dashID, ok := s.pathDashID(w, r)
	if !ok {
		return
	}

	var req submitRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	formData, err := formDataByNodeID(req.FormData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ts, err := s.engine.SubmitRefresh(dashID, req.NodesToRefresh, req.NodesInViewport, formData, req.DurationMillis)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitRefreshResponse{TS: ts})
}

func (s *Server) handleReadCharts(w http.ResponseWriter, r *http.Request) {
	dashID, ok := s.pathDashID(w, r)
	if !ok {
		return
	}

	nodeIDs, err := parseInt64CSV(r.URL.Query().Get("nodes"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	duration, err := parseDurationParam(r.URL.Query().Get("duration_millis"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ts, charts, err := s.engine.ReadCharts(dashID, nodeIDs, duration)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, readChartsResponse{TS: ts, Charts: toChartDTOs(charts)})
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	dashID, ok := s.pathDashID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteState(dashID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pathDashID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.WithMessage(err, "invalid dashboard id"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ace.ErrUnknownDashboard), errors.Is(err, ace.ErrUnknownNode):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ace.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, graph.ErrCycle):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.log.WithError(err).Warn("ace operation failed")
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("failed to encode response body")
	}
}

func formDataByNodeID(m map[string]any) (map[int64]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[int64]any, len(m))
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, errors.WithMessagef(err, "form_data key %q is not a node id", k)
		}
		out[id] = v
	}
	return out, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid node id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseDurationParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
