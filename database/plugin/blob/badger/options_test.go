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

package badger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	b := &BlobStoreBadger{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()

	WithDataDir("/tmp/combined")(b)
	WithBlockCacheSize(1000000)(b)
	WithIndexCacheSize(2000000)(b)
	WithLogger(logger)(b)
	WithPromRegistry(registry)(b)
	WithGcInterval(time.Minute)(b)
	WithValueThreshold(2048)(b)

	require.Equal(t, "/tmp/combined", b.dataDir)
	require.Equal(t, uint64(1000000), b.blockCacheSize)
	require.Equal(t, uint64(2000000), b.indexCacheSize)
	require.Same(t, logger, b.logger)
	require.Equal(t, prometheus.Registerer(registry), b.promRegistry)
	require.Equal(t, time.Minute, b.gcInterval)
	require.Equal(t, int64(2048), b.valueThreshold)
}

func TestWithGc(t *testing.T) {
	b := &BlobStoreBadger{}
	WithGc(true)(b)
	require.True(t, b.gcEnabled)
	WithGc(false)(b)
	require.False(t, b.gcEnabled)
}
