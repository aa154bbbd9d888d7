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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/legiau879778/suimusic-sub000"
	"github.com/legiau879778/suimusic-sub000/internal/config"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/ledger/memory"
	"github.com/legiau879778/suimusic-sub000/ledger/sui"
	"github.com/legiau879778/suimusic-sub000/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrWorkIDRequired is returned by Reconcile when neither a work nor a full
// pass is requested
var ErrWorkIDRequired = errors.New("work id required")

// Options translates the loaded configuration into node options
func Options(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) ([]suimusic.ConfigOptionFunc, error) {
	shutdownTimeout := config.MustDuration(cfg.ShutdownTimeout)
	readRetryDelay := config.MustDuration(cfg.Ledger.ReadRetryDelay)
	mintTimeout := config.MustDuration(cfg.Ledger.MintTimeout)
	attestationTimeout := config.MustDuration(cfg.Attestation.Timeout)
	notifyTimeout := config.MustDuration(cfg.Notify.Timeout)
	reconcileInterval := config.MustDuration(cfg.Reconcile.Interval)
	reconcileRead := config.MustDuration(cfg.Reconcile.ReadTimeout)

	client, signer, packageID, registryID, err := loadLedger(cfg, logger)
	if err != nil {
		return nil, err
	}
	apiAddr := ""
	if cfg.ApiPort > 0 {
		apiAddr = fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort)
	}
	opts := []suimusic.ConfigOptionFunc{
		suimusic.WithLogger(logger),
		suimusic.WithPrometheusRegistry(promRegistry),
		suimusic.WithDatabasePath(cfg.DatabasePath),
		suimusic.WithBlobPlugin(cfg.BlobPlugin),
		suimusic.WithMetadataPlugin(cfg.MetadataPlugin),
		suimusic.WithLedger(client),
		suimusic.WithContract(packageID, registryID),
		suimusic.WithLedgerReadRetries(cfg.Ledger.ReadRetries, readRetryDelay),
		suimusic.WithMintTimeout(mintTimeout),
		suimusic.WithAttestation(
			cfg.Attestation.Url,
			cfg.Attestation.ApiKey,
			attestationTimeout,
			cfg.Attestation.Mock,
		),
		suimusic.WithQuorumWeight(cfg.Approval.QuorumWeight),
		suimusic.WithReviewers(cfg.Approval.Reviewers),
		suimusic.WithNotifySinks(notifyTimeout, notifySinks(cfg, logger)...),
		suimusic.WithReconcile(
			reconcileInterval,
			cfg.Reconcile.Jitter,
			reconcileRead,
			cfg.Reconcile.Concurrency,
		),
		suimusic.WithAPIListenAddress(apiAddr),
		suimusic.WithAPILimits(
			cfg.Api.RateLimit,
			cfg.Api.RateBurst,
			cfg.Api.MaxConnections,
			cfg.Api.MaxBlobBytes,
		),
		suimusic.WithTracing(cfg.Tracing),
		suimusic.WithTracingStdout(cfg.TracingStdout),
		suimusic.WithShutdownTimeout(shutdownTimeout),
	}
	// A nil *KeyStore must not reach the node as a non-nil Signer
	if signer != nil {
		opts = append(opts, suimusic.WithSigner(signer))
	}
	return opts, nil
}

func loadLedger(
	cfg *config.Config,
	logger *slog.Logger,
) (ledger.Client, keystore.Signer, string, string, error) {
	var signer keystore.Signer
	if cfg.Ledger.KeyFile != "" {
		ks := keystore.NewKeyStore(keystore.KeyStoreConfig{
			Logger:  logger,
			KeyPath: cfg.Ledger.KeyFile,
		})
		if err := ks.Load(); err != nil {
			return nil, nil, "", "", err
		}
		signer = ks
	}
	packageID := cfg.Ledger.PackageId
	registryID := cfg.Ledger.RegistryId
	switch cfg.Ledger.Mode {
	case config.LedgerModeMemory:
		l := memory.New()
		// The in-memory ledger starts empty, so the configured IDs cannot exist
		packageID, registryID = l.Publish()
		if signer == nil {
			key, err := keystore.GenerateKey()
			if err != nil {
				return nil, nil, "", "", err
			}
			signer = key
		}
		logger.Warn(
			"using in-memory ledger, minted works are lost on exit",
			"component", "node",
			"package_id", packageID,
			"minter", signer.Address(),
		)
		return l, signer, packageID, registryID, nil
	default:
		client := sui.NewClient(
			cfg.Ledger.RpcUrl,
			sui.WithLogger(logger),
			sui.WithGasBudget(cfg.Ledger.GasBudget),
		)
		return client, signer, packageID, registryID, nil
	}
}

func notifySinks(cfg *config.Config, logger *slog.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Notify.WebhookUrl != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			Logger:   logger,
			URL:      cfg.Notify.WebhookUrl,
			Secret:   cfg.Notify.WebhookSecret,
			RetryMax: cfg.Notify.WebhookRetries,
			Timeout:  config.MustDuration(cfg.Notify.Timeout),
		}))
	}
	smtp := cfg.Notify.Smtp
	if smtp.Host != "" && len(smtp.To) > 0 {
		sinks = append(sinks, notify.NewEmailSink(notify.EmailConfig{
			Host:     smtp.Host,
			Username: smtp.User,
			Password: smtp.Password,
			From:     smtp.From,
			To:       smtp.To,
			Port:     smtp.Port,
		}))
	}
	return sinks
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := Options(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	d, err := suimusic.New(suimusic.NewConfig(opts...))
	if err != nil {
		return err
	}
	shutdownTimeout := config.MustDuration(cfg.ShutdownTimeout)
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.MetricsPort > 0 {
		logger.Info(
			"serving prometheus metrics on "+metricsServer.Addr,
			"component",
			"node",
		)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				err != http.ErrServerClosed {
				logger.Error(
					fmt.Sprintf("failed to start metrics listener: %s", err),
					"component", "node",
				)
				os.Exit(1)
			}
		}()
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run()
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := d.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		if err == nil {
			logger.Info("node stopped")
			shutdownMetrics()
			return d.Stop()
		}
		logger.Error("node error", "error", err)
		signalCtxStop()
		if stopErr := d.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}
		shutdownMetrics()
		return err
	}
}

// Reconcile runs a single reconciliation against the ledger without serving
// the API. An empty workID with all set reconciles every bound work
func Reconcile(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	workID string,
	all bool,
) error {
	if workID == "" && !all {
		return ErrWorkIDRequired
	}
	opts, err := Options(cfg, logger, nil)
	if err != nil {
		return err
	}
	// One-shot runs never serve or schedule
	opts = append(
		opts,
		suimusic.WithAPIListenAddress(""),
		suimusic.WithReconcile(
			0,
			0,
			config.MustDuration(cfg.Reconcile.ReadTimeout),
			cfg.Reconcile.Concurrency,
		),
	)
	d, err := suimusic.New(suimusic.NewConfig(opts...))
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := d.Stop(); stopErr != nil {
			logger.Error("shutdown errors occurred", "error", stopErr)
		}
	}()
	if err := d.Open(); err != nil {
		return err
	}
	if all {
		changed, err := d.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		logger.Info(
			"reconciliation complete",
			"component", "node",
			"changed", changed,
		)
		return nil
	}
	work, err := d.Service().ReconcileOwnership(ctx, workID)
	if err != nil {
		return err
	}
	logger.Info(
		"work reconciled",
		"component", "node",
		"work_id", work.ID,
		"owner", work.AuthorWallet,
		"owner_kind", work.OwnerKind,
		"version", work.Version,
		"licenses", len(work.Licenses),
	)
	return nil
}
