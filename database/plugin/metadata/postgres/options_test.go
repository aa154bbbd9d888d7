// Copyright 2025 Blink Labs Software
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

package postgres

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m, err := NewWithOptions()
	require.NoError(t, err)
	require.Equal(t, "localhost", m.host)
	require.Equal(t, uint(5432), m.port)
	require.Equal(t, "postgres", m.user)
	require.Equal(t, "suimusic", m.database)
	require.Equal(t, "disable", m.sslMode)
	require.Equal(t, "UTC", m.timeZone)
	require.True(t, m.prepareStmt)
	require.NotNil(t, m.logger)
}

func TestOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	m, err := NewWithOptions(
		WithHost("db.local"),
		WithPort(6543),
		WithUser("music"),
		WithPassword("secret"),
		WithDatabase("works"),
		WithSSLMode("require"),
		WithTimeZone("Asia/Ho_Chi_Minh"),
		WithLogger(logger),
		WithPromRegistry(registry),
		WithMaxOpenConns(7),
		WithPrepareStmt(false),
		WithSkipMigrate(true),
	)
	require.NoError(t, err)
	require.Same(t, logger, m.logger)
	require.Equal(t, prometheus.Registerer(registry), m.promRegistry)
	require.Equal(t, 7, m.maxOpenConns)
	require.False(t, m.prepareStmt)
	require.True(t, m.skipMigrate)
	require.Equal(
		t,
		"host=db.local user=music password=secret dbname=works port=6543 sslmode=require TimeZone=Asia/Ho_Chi_Minh",
		m.DSN(),
	)
}

func TestDSNOverride(t *testing.T) {
	m, err := NewWithOptions(
		WithHost("ignored"),
		WithDSN("  postgres://u:p@h:1/db  "),
	)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@h:1/db", m.DSN())
}
