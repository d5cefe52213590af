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

package compute

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// SQLCostEstimator is an ace.Estimator that turns a dashboard's
// DBConnectInfo into a live table-size probe: the row count of the
// table named in form_data["table"] becomes the node's cost. It speaks
// either dialect the teacher's changefeed sources target -- Postgres
// over jackc/pgx/v5, MySQL over go-sql-driver/mysql -- selected by the
// connection string's scheme, the same way cdc-sink picks a logical
// replication dialect from its source URL.
//
// This is still a reference adapter (spec section 4.8): a row count is
// a crude proxy for query cost, not a query plan. Real cost-based
// query planning is out of scope per spec section 1.
type SQLCostEstimator struct {
	dialect string
	pg      *pgxpool.Pool
	my      *sql.DB
}

// NewSQLCostEstimator opens a connection pool against connInfo. The
// scheme (postgres://, postgresql://, or mysql://) selects the dialect;
// any other scheme is a configuration error.
func NewSQLCostEstimator(ctx context.Context, connInfo string) (*SQLCostEstimator, error) {
	switch {
	case strings.HasPrefix(connInfo, "postgres://"), strings.HasPrefix(connInfo, "postgresql://"):
		pool, err := pgxpool.New(ctx, connInfo)
		if err != nil {
			return nil, errors.WithMessage(err, "sql cost estimator: opening postgres pool")
		}
		return &SQLCostEstimator{dialect: "postgres", pg: pool}, nil

	case strings.HasPrefix(connInfo, "mysql://"):
		dsn := strings.TrimPrefix(connInfo, "mysql://")
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, errors.WithMessage(err, "sql cost estimator: opening mysql pool")
		}
		return &SQLCostEstimator{dialect: "mysql", my: db}, nil

	default:
		return nil, errors.Errorf("sql cost estimator: unrecognized DBConnectInfo scheme: %q", connInfo)
	}
}

// Close releases the underlying connection pool.
func (e *SQLCostEstimator) Close() error {
	switch e.dialect {
	case "postgres":
		e.pg.Close()
		return nil
	case "mysql":
		return e.my.Close()
	default:
		return nil
	}
}

// Estimate implements ace.Estimator. form_data must be a
// map[string]any{"table": string}; any other shape, or a query
// failure, is an estimator failure (spec sections 4.5 and 7): the
// scheduler clears the whole job's cost map and falls back to default
// costs rather than aborting the refresh.
func (e *SQLCostEstimator) Estimate(ctx context.Context, nodeID int64, formData any) (int, error) {
	table, ok := tableFromFormData(formData)
	if !ok {
		return 0, errors.WithMessagef(ErrMissingCostConvention, "node %d: form_data has no \"table\" key", nodeID)
	}

	var rows int64
	var err error
	switch e.dialect {
	case "postgres":
		err = e.pg.QueryRow(ctx,
			`SELECT COALESCE(reltuples, 0)::bigint FROM pg_class WHERE relname = $1`, table,
		).Scan(&rows)
	case "mysql":
		err = e.my.QueryRowContext(ctx,
			`SELECT COALESCE(table_rows, 0) FROM information_schema.tables WHERE table_name = ?`, table,
		).Scan(&rows)
	}
	if err != nil {
		return 0, errors.WithMessagef(err, "sql cost estimator: node %d, table %q", nodeID, table)
	}
	if rows < 1 {
		rows = 1
	}
	return int(rows), nil
}

func tableFromFormData(formData any) (string, bool) {
	m, ok := formData.(map[string]any)
	if !ok {
		return "", false
	}
	table, ok := m["table"].(string)
	if !ok || table == "" {
		return "", false
	}
	return table, true
}
