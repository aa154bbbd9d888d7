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

package suimusic

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/notify"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledger            ledger.Client
	signer            keystore.Signer
	reviewers         map[string]int
	dataDir           string
	blobPlugin        string
	metadataPlugin    string
	packageID         string
	registryID        string
	attestationURL    string
	attestationAPIKey string
	apiListenAddress  string
	notifySinks       []notify.Sink
	readRetries       int
	readRetryDelay    time.Duration
	mintTimeout       time.Duration
	attestationTime   time.Duration
	notifyTimeout     time.Duration
	reconcileInterval time.Duration
	reconcileJitter   float64
	reconcileRead     time.Duration
	reconcileWorkers  int
	quorumWeight      int
	apiRateLimit      float64
	apiRateBurst      int
	apiMaxConns       int
	apiMaxBlobBytes   int64
	shutdownTimeout   time.Duration
	attestationMock   bool
	tracing           bool
	tracingStdout     bool
}

// ConfigOptionFunc is a type that represents functions that modify the Config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new Config with the provided options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		quorumWeight: 1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.ledger == nil {
		return errors.New("no ledger client configured")
	}
	if c.quorumWeight < 1 {
		return errors.New("quorum weight must be at least 1")
	}
	if c.reconcileJitter < 0 || c.reconcileJitter >= 1 {
		return errors.New("reconcile jitter must be in [0, 1)")
	}
	return nil
}

// WithLogger specifies the logger to use. The default discards all logs
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithLedger specifies the ledger client used for minting and reconciliation
func WithLedger(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledger = client
	}
}

// WithSigner specifies the key that signs mint transactions. Minting fails
// with a missing configuration error when no signer is set
func WithSigner(signer keystore.Signer) ConfigOptionFunc {
	return func(c *Config) {
		c.signer = signer
	}
}

// WithContract specifies the deployed package and the shared registry object
func WithContract(packageID string, registryID string) ConfigOptionFunc {
	return func(c *Config) {
		c.packageID = packageID
		c.registryID = registryID
	}
}

// WithLedgerReadRetries specifies how often a submitted transaction is
// re-read for its created object, and the initial delay between reads
func WithLedgerReadRetries(retries int, delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.readRetries = retries
		c.readRetryDelay = delay
	}
}

// WithMintTimeout bounds a single mint submission
func WithMintTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.mintTimeout = timeout
	}
}

// WithAttestation specifies the timestamping authority. With mock set and no
// URL, marked mock attestations are produced
func WithAttestation(
	url string,
	apiKey string,
	timeout time.Duration,
	mock bool,
) ConfigOptionFunc {
	return func(c *Config) {
		c.attestationURL = url
		c.attestationAPIKey = apiKey
		c.attestationTime = timeout
		c.attestationMock = mock
	}
}

// WithQuorumWeight specifies the approval weight new works need
func WithQuorumWeight(weight int) ConfigOptionFunc {
	return func(c *Config) {
		c.quorumWeight = weight
	}
}

// WithReviewers specifies the reviewer allow-list with per-reviewer weight caps
func WithReviewers(reviewers map[string]int) ConfigOptionFunc {
	return func(c *Config) {
		c.reviewers = reviewers
	}
}

// WithNotifySinks specifies where notifications are delivered
func WithNotifySinks(timeout time.Duration, sinks ...notify.Sink) ConfigOptionFunc {
	return func(c *Config) {
		c.notifyTimeout = timeout
		c.notifySinks = sinks
	}
}

// WithReconcile specifies the reconciliation schedule and the per-read timeout
func WithReconcile(
	interval time.Duration,
	jitter float64,
	readTimeout time.Duration,
	workers int,
) ConfigOptionFunc {
	return func(c *Config) {
		c.reconcileInterval = interval
		c.reconcileJitter = jitter
		c.reconcileRead = readTimeout
		c.reconcileWorkers = workers
	}
}

// WithAPIListenAddress specifies the API listen address. Empty disables the API
func WithAPIListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithAPILimits specifies per-client rate limiting, the connection cap and
// the maximum blob upload size
func WithAPILimits(
	rateLimit float64,
	rateBurst int,
	maxConns int,
	maxBlobBytes int64,
) ConfigOptionFunc {
	return func(c *Config) {
		c.apiRateLimit = rateLimit
		c.apiRateBurst = rateBurst
		c.apiMaxConns = maxConns
		c.apiMaxBlobBytes = maxBlobBytes
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) OTLP collector at localhost:4318 (or https://localhost:4318
// if TLS is enabled). These can be overridden with the OTEL_EXPORTER_OTLP_* environment variables
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
