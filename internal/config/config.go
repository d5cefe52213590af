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

// Package config holds the user-visible, pflag-bound configuration for
// cmd/acedriver, in the shape of the teacher's
// internal/source/server.Config: a Bind method that registers flags
// and a Preflight method that validates them once parsed.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the process-wide configuration for an ace server.
type Config struct {
	BindAddr string

	// DisableAuth is carried for parity with the teacher's
	// server.Config shape (spec.md's Non-goals exclude authentication
	// entirely; this flag is a documented no-op that nothing reads).
	DisableAuth bool

	GCInterval time.Duration

	// DBConnectInfo, if set, is used to construct a
	// compute.SQLCostEstimator instead of the default
	// compute.LatencyEstimator. It is not copied into the dashboards'
	// Options: a dashboard created by the driver starts with an empty
	// DBConnectInfo, so OptExecTime stays off until a config call for
	// that dashboard supplies one.
	DBConnectInfo string
}

// Bind registers this Config's fields on flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(
		&c.BindAddr,
		"bindAddr",
		":26260",
		"the network address the ace HTTP server binds to")
	flags.BoolVar(
		&c.DisableAuth,
		"disableAuthentication",
		true,
		"authentication is out of scope for this server; retained for flag-shape parity only")
	flags.DurationVar(
		&c.GCInterval,
		"gcInterval",
		30*time.Second,
		"how often each dashboard's garbage collector runs")
	flags.StringVar(
		&c.DBConnectInfo,
		"dbConnectInfo",
		"",
		"optional postgres:// or mysql:// connection string; selects a live row-count estimator for dashboards whose config enables exec-time weighting")
}

// Preflight validates the configuration after flags have been parsed.
func (c *Config) Preflight() error {
	if c.BindAddr == "" {
		return errors.New("bindAddr unset")
	}
	if c.GCInterval <= 0 {
		return errors.New("gcInterval must be positive")
	}
	return nil
}
