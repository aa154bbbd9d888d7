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
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/legiau879778/suimusic-sub000/api"
	"github.com/legiau879778/suimusic-sub000/approval"
	"github.com/legiau879778/suimusic-sub000/attestation"
	"github.com/legiau879778/suimusic-sub000/binder"
	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/legiau879778/suimusic-sub000/notify"
	"github.com/legiau879778/suimusic-sub000/pipeline"
	"github.com/legiau879778/suimusic-sub000/reconcile"
	"github.com/legiau879778/suimusic-sub000/signature"
)

const defaultShutdownTimeout = 30 * time.Second

var ErrNodeStopped = errors.New("node stopped")

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	approvals     *approval.Coordinator
	binder        *binder.Binder
	reconciler    *reconcile.Reconciler
	scheduler     *reconcile.Scheduler
	dispatcher    *notify.Dispatcher
	service       *pipeline.Service
	api           *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	runCtx        context.Context //nolint:containedctx
	runCancel     context.CancelFunc
	done          chan struct{}
	openOnce      sync.Once
	openErr       error
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	n.runCtx, n.runCancel = context.WithCancel(context.Background())
	return n, nil
}

// Open builds every component without starting background work. It is
// called by Run and is safe to call more than once
func (n *Node) Open() error {
	n.openOnce.Do(func() {
		n.openErr = n.open()
	})
	return n.openErr
}

func (n *Node) open() error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        n.config.dataDir,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	verifier := signature.SuiVerifier{}
	attester := attestation.New(attestation.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		URL:          n.config.attestationURL,
		APIKey:       n.config.attestationAPIKey,
		Timeout:      n.config.attestationTime,
		Mock:         n.config.attestationMock,
	})
	n.approvals = approval.New(approval.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		DB:           n.db,
		EventBus:     n.eventBus,
		Verifier:     verifier,
		Reviewers:    n.config.reviewers,
	})
	n.binder = binder.New(binder.Config{
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		Ledger:         n.config.ledger,
		Signer:         n.config.signer,
		PackageID:      n.config.packageID,
		RegistryID:     n.config.registryID,
		MaxReadRetries: n.config.readRetries,
		ReadRetryDelay: n.config.readRetryDelay,
		Timeout:        n.config.mintTimeout,
	})
	if err := n.binder.Configured(); err != nil {
		n.config.logger.Warn(
			"minting disabled",
			"error", err,
		)
	}
	n.reconciler = reconcile.New(reconcile.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		DB:           n.db,
		Ledger:       n.config.ledger,
		EventBus:     n.eventBus,
		ReadTimeout:  n.config.reconcileRead,
	})
	n.service = pipeline.New(pipeline.Config{
		Logger:       n.config.logger,
		DB:           n.db,
		EventBus:     n.eventBus,
		Verifier:     verifier,
		Attester:     attester,
		Approvals:    n.approvals,
		Binder:       n.binder,
		Reconciler:   n.reconciler,
		QuorumWeight: n.config.quorumWeight,
		VerifyBlobs:  true,
	})
	n.dispatcher = notify.NewDispatcher(notify.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		EventBus:     n.eventBus,
		Sinks:        n.config.notifySinks,
		Timeout:      n.config.notifyTimeout,
	})
	if n.config.reconcileInterval > 0 {
		n.scheduler = reconcile.NewScheduler(reconcile.SchedulerConfig{
			Logger:       n.config.logger,
			PromRegistry: n.config.promRegistry,
			DB:           n.db,
			Reconciler:   n.reconciler,
			Interval:     n.config.reconcileInterval,
			Jitter:       n.config.reconcileJitter,
			Concurrency:  n.config.reconcileWorkers,
		})
	}
	if n.config.apiListenAddress != "" {
		n.api = api.New(
			api.Config{
				Logger:          n.config.logger,
				PromRegistry:    n.config.promRegistry,
				ListenAddress:   n.config.apiListenAddress,
				RateLimit:       n.config.apiRateLimit,
				RateBurst:       n.config.apiRateBurst,
				MaxConnections:  n.config.apiMaxConns,
				MaxBlobBytes:    n.config.apiMaxBlobBytes,
				ShutdownTimeout: n.config.shutdownTimeout,
			},
			n.service,
		)
	}
	return nil
}

// Run starts notification delivery, the reconciliation scheduler and the
// API, then blocks until Stop
func (n *Node) Run() error {
	select {
	case <-n.done:
		return ErrNodeStopped
	default:
	}
	if err := n.Open(); err != nil {
		return err
	}
	if err := n.dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start notifications: %w", err)
	}
	if n.scheduler != nil {
		if err := n.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start reconciliation: %w", err)
		}
	}
	if n.api != nil {
		if err := n.api.Start(n.runCtx); err != nil {
			return fmt.Errorf("failed to start API: %w", err)
		}
		n.config.logger.Info(
			"API listening",
			"address", n.api.Addr().String(),
		)
	}

	// Wait for shutdown signal
	<-n.done
	return nil
}

// Service returns the pipeline. It is nil until Open succeeds
func (n *Node) Service() *pipeline.Service {
	return n.service
}

// Reconciler returns the ownership reconciler. It is nil until Open succeeds
func (n *Node) Reconciler() *reconcile.Reconciler {
	return n.reconciler
}

// ReconcileAll runs one reconciliation pass over every bound work and
// returns how many works changed
func (n *Node) ReconcileAll(ctx context.Context) (int, error) {
	if err := n.Open(); err != nil {
		return 0, err
	}
	scheduler := n.scheduler
	if scheduler == nil {
		scheduler = reconcile.NewScheduler(reconcile.SchedulerConfig{
			Logger:      n.config.logger,
			DB:          n.db,
			Reconciler:  n.reconciler,
			Concurrency: n.config.reconcileWorkers,
		})
	}
	return scheduler.RunOnce(ctx)
}

// APIAddr returns the bound API address once Run has started the API
func (n *Node) APIAddr() net.Addr {
	if n.api == nil {
		return nil
	}
	return n.api.Addr()
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := defaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("API shutdown: %w", stopErr))
		}
	}
	n.runCancel()

	if n.scheduler != nil {
		if stopErr := n.scheduler.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("reconcile scheduler shutdown: %w", stopErr),
			)
		}
	}

	// Phase 2: Drain notifications
	n.config.logger.Debug("shutdown phase 2: draining notifications")

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	if n.dispatcher != nil {
		if stopErr := n.dispatcher.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("notification shutdown: %w", stopErr),
			)
		}
	}

	// Phase 3: Close database
	n.config.logger.Debug("shutdown phase 3: closing database")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
