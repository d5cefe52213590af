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

// Package server exposes ace.Engine's five operations as a thin
// net/http surface, per spec.md section 6 / SPEC_FULL.md section 4.9.
// The teacher's internal/source/server package binds a BindAddr and
// TLS options via pflag but ships no router of its own in the
// retrieved slice; this package follows that Config shape (see
// internal/config) while routing requests with Go 1.22's
// http.ServeMux method patterns, the conservative stdlib choice noted
// in DESIGN.md.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transactional-panorama/ace/internal/ace"
)

const shutdownGrace = 5 * time.Second

// Server wraps an ace.Engine with an http.Handler exposing its
// operations as JSON endpoints.
type Server struct {
	engine *ace.Engine
	log    *logrus.Entry
	mux    *http.ServeMux
}

// New builds a Server around engine.
func New(engine *ace.Engine, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{engine: engine, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /dash/{id}", s.handleCreateState)
	s.mux.HandleFunc("PUT /dash/{id}/config", s.handleConfig)
	s.mux.HandleFunc("POST /dash/{id}/refresh", s.handleSubmitRefresh)
	s.mux.HandleFunc("GET /dash/{id}/charts", s.handleReadCharts)
	s.mux.HandleFunc("DELETE /dash/{id}", s.handleDeleteState)
}

// ListenAndServe starts the HTTP server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
