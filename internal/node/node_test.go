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

package node

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/legiau879778/suimusic-sub000"
	"github.com/legiau879778/suimusic-sub000/internal/config"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suimusic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestOptionsMemoryLedger(t *testing.T) {
	cfg := loadTestConfig(t, `
databasePath: ""
apiPort: 0
ledger:
  mode: memory
attestation:
  mock: true
`)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	opts, err := Options(cfg, logger, prometheus.NewRegistry())
	require.NoError(t, err)
	n, err := suimusic.New(suimusic.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Open())
	t.Cleanup(func() { require.NoError(t, n.Stop()) })
	require.NotNil(t, n.Service())
	assert.Nil(t, n.APIAddr())
}

func TestLoadLedgerUsesKeyFile(t *testing.T) {
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	data, err := keystore.MarshalKeyFile(key, "test")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "minter.key")
	require.NoError(t, os.WriteFile(keyPath, data, 0o600))

	cfg := loadTestConfig(t, "ledger:\n  mode: memory\n  keyFile: "+keyPath+"\n")
	client, signer, packageID, registryID, err := loadLedger(cfg, slog.Default())
	require.NoError(t, err)
	require.IsType(t, &memory.Ledger{}, client)
	assert.Equal(t, key.Address(), signer.Address())
	assert.NotEmpty(t, packageID)
	assert.NotEmpty(t, registryID)
}

func TestLoadLedgerMissingKeyFile(t *testing.T) {
	cfg := loadTestConfig(
		t,
		"ledger:\n  keyFile: "+filepath.Join(t.TempDir(), "missing.key")+"\n",
	)
	_, _, _, _, err := loadLedger(cfg, slog.Default())
	require.Error(t, err)
}

func TestNotifySinks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		sinks   int
	}{
		{"none", "{}\n", 0},
		{"webhook", "notify:\n  webhookUrl: https://hooks.example.com/x\n", 1},
		{
			"smtp without recipients",
			"notify:\n  smtp:\n    host: smtp.example.com\n",
			0,
		},
		{
			"webhook and smtp",
			`
notify:
  webhookUrl: https://hooks.example.com/x
  smtp:
    host: smtp.example.com
    to: ["ops@example.com"]
`,
			2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadTestConfig(t, tc.content)
			assert.Len(t, notifySinks(cfg, slog.Default()), tc.sinks)
		})
	}
}

func TestReconcileRequiresWork(t *testing.T) {
	cfg := loadTestConfig(t, "ledger:\n  mode: memory\n")
	err := Reconcile(context.Background(), cfg, slog.Default(), "", false)
	require.ErrorIs(t, err, ErrWorkIDRequired)
}

func TestReconcileAllOnEmptyDatabase(t *testing.T) {
	cfg := loadTestConfig(t, `
databasePath: ""
ledger:
  mode: memory
attestation:
  mock: true
`)
	require.NoError(
		t,
		Reconcile(context.Background(), cfg, slog.Default(), "", true),
	)
}
