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

// Command acedriver runs the ACE dashboard consistency engine behind
// an HTTP server, in the shape of the original source's
// ace_driver/test_driver.py harness: bind flags, construct the
// reference compute/estimate adapters, wire up the engine, and serve
// until asked to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/transactional-panorama/ace/internal/ace"
	"github.com/transactional-panorama/ace/internal/compute"
	"github.com/transactional-panorama/ace/internal/config"
	"github.com/transactional-panorama/ace/internal/server"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("acedriver exited")
	}
}

func run() error {
	logLevel := pflag.String("logLevel", "info", "log level (panic, fatal, error, warn, info, debug, trace)")

	var cfg config.Config
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	if err := cfg.Preflight(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	estimator, closeEstimator, err := buildEstimator(ctx, cfg)
	if err != nil {
		return err
	}
	if closeEstimator != nil {
		defer closeEstimator()
	}

	engine := ace.NewEngine(compute.NewStaticComputer(), estimator, entry, cfg.GCInterval)
	srv := server.New(engine, entry)

	entry.WithField("bind_addr", cfg.BindAddr).Info("acedriver starting")
	if err := srv.ListenAndServe(ctx, cfg.BindAddr); err != nil {
		return errors.WithMessage(err, "acedriver: server exited")
	}
	entry.Info("acedriver stopped")
	return nil
}

// buildEstimator returns a compute.SQLCostEstimator when the operator
// configured a DBConnectInfo, falling back to the in-memory
// compute.LatencyEstimator reference adapter otherwise.
func buildEstimator(ctx context.Context, cfg config.Config) (ace.Estimator, func() error, error) {
	if cfg.DBConnectInfo == "" {
		return &compute.LatencyEstimator{}, nil, nil
	}
	est, err := compute.NewSQLCostEstimator(ctx, cfg.DBConnectInfo)
	if err != nil {
		return nil, nil, err
	}
	return est, est.Close, nil
}
