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

package plugin_test

import (
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/plugin"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct{}

func (m *mockPlugin) Start() error { return nil }
func (m *mockPlugin) Stop() error  { return nil }

func registerMock(t *testing.T, pluginType plugin.PluginType, name string, opts ...plugin.PluginOption) {
	t.Helper()
	plugin.Register(plugin.PluginEntry{
		Type:               pluginType,
		Name:               name,
		Options:            opts,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})
}

func TestRegister(t *testing.T) {
	name := "test-plugin-" + t.Name()
	registerMock(t, plugin.PluginTypeBlob, name)
	require.NotNil(t, plugin.GetPlugin(plugin.PluginTypeBlob, name))
	require.Nil(t, plugin.GetPlugin(plugin.PluginTypeMetadata, name))
	found := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if entry.Name == name {
			found = true
		}
	}
	require.True(t, found, "plugin not in GetPlugins list")
}

func TestPluginTypeName(t *testing.T) {
	require.Equal(t, "blob", plugin.PluginTypeName(plugin.PluginTypeBlob))
	require.Equal(t, "metadata", plugin.PluginTypeName(plugin.PluginTypeMetadata))
	require.Equal(t, "unknown", plugin.PluginTypeName(plugin.PluginType(99)))
}

func TestProcessEnvVars(t *testing.T) {
	var dir string
	var size uint64
	registerMock(t, plugin.PluginTypeMetadata, "envtest",
		plugin.PluginOption{Name: "data-dir", Type: plugin.PluginOptionTypeString, Dest: &dir},
		plugin.PluginOption{Name: "cache-size", Type: plugin.PluginOptionTypeUint, Dest: &size},
	)
	t.Setenv("SUIMUSIC_METADATA_ENVTEST_DATA_DIR", "/tmp/envtest")
	t.Setenv("SUIMUSIC_METADATA_ENVTEST_CACHE_SIZE", "42")
	require.NoError(t, plugin.ProcessEnvVars())
	require.Equal(t, "/tmp/envtest", dir)
	require.Equal(t, uint64(42), size)
}

func TestProcessConfig(t *testing.T) {
	var bucket string
	var gc bool
	registerMock(t, plugin.PluginTypeBlob, "cfgtest",
		plugin.PluginOption{Name: "bucket", Type: plugin.PluginOptionTypeString, Dest: &bucket},
		plugin.PluginOption{Name: "gc", Type: plugin.PluginOptionTypeBool, Dest: &gc},
	)
	err := plugin.ProcessConfig(map[string]map[string]map[string]any{
		"blob": {"cfgtest": {"bucket": "s3://music", "gc": true}},
	})
	require.NoError(t, err)
	require.Equal(t, "s3://music", bucket)
	require.True(t, gc)

	err = plugin.ProcessConfig(map[string]map[string]map[string]any{
		"blob": {"no-such-plugin": {}},
	})
	require.Error(t, err)
}

func TestPopulateCmdlineOptions(t *testing.T) {
	var port int
	registerMock(t, plugin.PluginTypeMetadata, "flagtest",
		plugin.PluginOption{Name: "port", Type: plugin.PluginOptionTypeInt, Dest: &port, DefaultValue: 5432},
	)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	require.Equal(t, 5432, port)
	require.NoError(t, fs.Parse([]string{"--metadata-flagtest-port=6543"}))
	require.Equal(t, 6543, port)
}
