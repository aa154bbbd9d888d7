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

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/legiau879778/suimusic-sub000/database/plugin"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "suimusic.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultBlobPlugin      = "badger"
	DefaultMetadataPlugin  = "sqlite"

	LedgerModeSui    = "sui"
	LedgerModeMemory = "memory"
)

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type LedgerConfig struct {
	Mode           string `yaml:"mode"`
	RpcUrl         string `yaml:"rpcUrl"         split_words:"true"`
	PackageId      string `yaml:"packageId"      split_words:"true"`
	RegistryId     string `yaml:"registryId"     split_words:"true"`
	KeyFile        string `yaml:"keyFile"        split_words:"true"`
	ReadRetryDelay string `yaml:"readRetryDelay" split_words:"true"`
	MintTimeout    string `yaml:"mintTimeout"    split_words:"true"`
	GasBudget      uint64 `yaml:"gasBudget"      split_words:"true"`
	ReadRetries    int    `yaml:"readRetries"    split_words:"true"`
}

type AttestationConfig struct {
	Url     string `yaml:"url"`
	ApiKey  string `yaml:"apiKey"  split_words:"true"`
	Timeout string `yaml:"timeout"`
	Mock    bool   `yaml:"mock"`
}

type ApprovalConfig struct {
	// Reviewers maps reviewer wallets to their maximum approval weight
	Reviewers    map[string]int `yaml:"reviewers"`
	QuorumWeight int            `yaml:"quorumWeight" split_words:"true"`
}

type SmtpConfig struct {
	Host     string   `yaml:"host"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Port     int      `yaml:"port"`
}

type NotifyConfig struct {
	WebhookUrl     string     `yaml:"webhookUrl"     split_words:"true"`
	WebhookSecret  string     `yaml:"webhookSecret"  split_words:"true"`
	WebhookRetries int        `yaml:"webhookRetries" split_words:"true"`
	Timeout        string     `yaml:"timeout"`
	Smtp           SmtpConfig `yaml:"smtp"`
}

type ReconcileConfig struct {
	Interval    string  `yaml:"interval"`
	ReadTimeout string  `yaml:"readTimeout" split_words:"true"`
	Jitter      float64 `yaml:"jitter"`
	Concurrency int     `yaml:"concurrency"`
}

type ApiConfig struct {
	RateLimit      float64 `yaml:"rateLimit"      split_words:"true"`
	RateBurst      int     `yaml:"rateBurst"      split_words:"true"`
	MaxConnections int     `yaml:"maxConnections" split_words:"true"`
	MaxBlobBytes   int64   `yaml:"maxBlobBytes"   split_words:"true"`
}

type Config struct {
	MetadataPlugin  string            `yaml:"metadataPlugin"  envconfig:"SUIMUSIC_DATABASE_METADATA_PLUGIN"`
	BlobPlugin      string            `yaml:"blobPlugin"      envconfig:"SUIMUSIC_DATABASE_BLOB_PLUGIN"`
	DatabasePath    string            `yaml:"databasePath"                                               split_words:"true"`
	BindAddr        string            `yaml:"bindAddr"                                                   split_words:"true"`
	ShutdownTimeout string            `yaml:"shutdownTimeout"                                            split_words:"true"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Attestation     AttestationConfig `yaml:"attestation"`
	Approval        ApprovalConfig    `yaml:"approval"`
	Notify          NotifyConfig      `yaml:"notify"`
	Reconcile       ReconcileConfig   `yaml:"reconcile"`
	Api             ApiConfig         `yaml:"api"`
	ApiPort         uint              `yaml:"apiPort"                                                    split_words:"true"`
	MetricsPort     uint              `yaml:"metricsPort"                                                split_words:"true"`
	Tracing         bool              `yaml:"tracing"`
	TracingStdout   bool              `yaml:"tracingStdout"                                              split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		BindAddr:        "0.0.0.0",
		ApiPort:         8080,
		MetricsPort:     12798,
		DatabasePath:    ".suimusic",
		BlobPlugin:      DefaultBlobPlugin,
		MetadataPlugin:  DefaultMetadataPlugin,
		ShutdownTimeout: DefaultShutdownTimeout,
		Ledger: LedgerConfig{
			Mode:           LedgerModeSui,
			GasBudget:      50_000_000,
			ReadRetries:    5,
			ReadRetryDelay: "1s",
			MintTimeout:    "60s",
		},
		Attestation: AttestationConfig{
			Timeout: "10s",
		},
		Approval: ApprovalConfig{
			QuorumWeight: 1,
		},
		Notify: NotifyConfig{
			WebhookRetries: 3,
			Timeout:        "30s",
			Smtp: SmtpConfig{
				Port: 587,
			},
		},
		Reconcile: ReconcileConfig{
			Interval:    "15s",
			ReadTimeout: "5s",
			Jitter:      0.2,
			Concurrency: 4,
		},
		Api: ApiConfig{
			RateLimit:      20,
			RateBurst:      40,
			MaxConnections: 1024,
		},
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.suimusic/suimusic.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".suimusic", "suimusic.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		// Try to check for /etc/suimusic/suimusic.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/suimusic/suimusic.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, err
		}
	}
	// Process environment variables
	if err := envconfig.Process("suimusic", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	// Process plugin environment variables
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func loadFile(configFile string, cfg *Config) error {
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	// First unmarshal into temp config to handle plugin sections
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if tempCfg.Config != nil {
		// Overlay config values onto existing defaults
		configBytes, err := yaml.Marshal(tempCfg.Config)
		if err != nil {
			return fmt.Errorf("error re-marshalling config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, cfg); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	// Process plugin configurations
	pluginConfig := make(map[string]map[string]map[string]any)
	if tempCfg.Blob != nil {
		pluginConfig["blob"] = tempCfg.Blob
	}
	if tempCfg.Metadata != nil {
		pluginConfig["metadata"] = tempCfg.Metadata
	}
	if tempCfg.Database != nil {
		if tempCfg.Database.Blob != nil {
			name, sections := pluginSection("blob", tempCfg.Database.Blob)
			if name != "" {
				cfg.BlobPlugin = name
			}
			mergeSections(pluginConfig, "blob", sections)
		}
		if tempCfg.Database.Metadata != nil {
			name, sections := pluginSection("metadata", tempCfg.Database.Metadata)
			if name != "" {
				cfg.MetadataPlugin = name
			}
			mergeSections(pluginConfig, "metadata", sections)
		}
	}
	if len(pluginConfig) > 0 {
		if err := plugin.ProcessConfig(pluginConfig); err != nil {
			return fmt.Errorf("error processing plugin config: %w", err)
		}
	}
	return nil
}

// pluginSection splits a database.<type> section into the selected plugin
// name and the per-plugin option maps
func pluginSection(
	pluginType string,
	section map[string]any,
) (string, map[string]map[string]any) {
	var name string
	if pluginVal, exists := section["plugin"]; exists {
		if pluginName, ok := pluginVal.(string); ok {
			name = pluginName
		}
	}
	ret := make(map[string]map[string]any)
	for k, v := range section {
		if k == "plugin" {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			ret[k] = val
		case map[any]any:
			// Convert map[any]any to map[string]any
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			ret[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				pluginType,
				k,
				v,
			)
		}
	}
	return name, ret
}

func mergeSections(
	pluginConfig map[string]map[string]map[string]any,
	pluginType string,
	sections map[string]map[string]any,
) {
	if pluginConfig[pluginType] == nil {
		pluginConfig[pluginType] = sections
		return
	}
	maps.Copy(pluginConfig[pluginType], sections)
}

// Validate checks enumerations and that every duration string parses
func (c *Config) Validate() error {
	switch c.Ledger.Mode {
	case LedgerModeSui, LedgerModeMemory:
	default:
		return fmt.Errorf(
			"invalid ledger mode: %q (must be '%s' or '%s')",
			c.Ledger.Mode,
			LedgerModeSui,
			LedgerModeMemory,
		)
	}
	if c.Approval.QuorumWeight < 1 {
		return fmt.Errorf(
			"invalid approval quorum weight: %d",
			c.Approval.QuorumWeight,
		)
	}
	for name, weight := range c.Approval.Reviewers {
		if weight < 1 {
			return fmt.Errorf("invalid weight %d for reviewer %s", weight, name)
		}
	}
	if c.Reconcile.Jitter < 0 || c.Reconcile.Jitter >= 1 {
		return fmt.Errorf("invalid reconcile jitter: %v", c.Reconcile.Jitter)
	}
	durations := map[string]string{
		"shutdownTimeout":       c.ShutdownTimeout,
		"ledger.readRetryDelay": c.Ledger.ReadRetryDelay,
		"ledger.mintTimeout":    c.Ledger.MintTimeout,
		"attestation.timeout":   c.Attestation.Timeout,
		"notify.timeout":        c.Notify.Timeout,
		"reconcile.interval":    c.Reconcile.Interval,
		"reconcile.readTimeout": c.Reconcile.ReadTimeout,
	}
	for name, val := range durations {
		if _, err := ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses a configured duration. An empty value is zero, which
// selects the component default
func ParseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", val)
	}
	return d, nil
}

// MustDuration is ParseDuration for values already checked by Validate
func MustDuration(val string) time.Duration {
	d, _ := ParseDuration(val)
	return d
}

func GetConfig() *Config {
	return globalConfig
}
