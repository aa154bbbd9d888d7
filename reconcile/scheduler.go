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

package reconcile

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultJitter      = 0.2
	DefaultConcurrency = 4
)

type SchedulerConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Reconciler   *Reconciler
	Interval     time.Duration
	// Jitter is the fraction of Interval each wait may vary by
	Jitter      float64
	Concurrency int
}

// Scheduler periodically reconciles every bound work
type Scheduler struct {
	config  SchedulerConfig
	logger  *slog.Logger
	cancel  context.CancelFunc
	runs    *prometheus.CounterVec
	wg      sync.WaitGroup
	mu      sync.Mutex
	running atomic.Bool
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = DefaultJitter
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	s := &Scheduler{
		config: cfg,
		logger: cfg.Logger.With("component", "reconcile"),
	}
	if cfg.PromRegistry != nil {
		s.runs = promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_runs_total",
				Help: "scheduled reconciliation passes by result",
			},
			[]string{"result"},
		)
	}
	return s
}

// nextWait returns the interval varied by up to the configured jitter
func (s *Scheduler) nextWait() time.Duration {
	spread := s.config.Jitter * (2*rand.Float64() - 1) //nolint:gosec
	return time.Duration(float64(s.config.Interval) * (1 + spread))
}

// Start runs reconciliation passes in the background until Stop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info(
		"reconciliation scheduler started",
		"interval", s.config.Interval,
		"jitter", s.config.Jitter,
		"concurrency", s.config.Concurrency,
	)
	return nil
}

// Stop cancels the running pass and waits for it to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("reconciliation pass failed", "err", err)
			}
			timer.Reset(s.nextWait())
		}
	}
}

// RunOnce reconciles all bound works and returns how many changed. A pass
// already in progress makes this a no-op
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.running.Store(false)
	bound := true
	works, err := s.config.DB.ListWorks(ctx, database.WorkFilter{Bound: &bound})
	if err != nil {
		s.observe("error")
		return 0, err
	}
	var changed atomic.Int64
	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup
	for i := range works {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(work *models.WorkMirror) {
			defer func() {
				<-sem
				wg.Done()
			}()
			updated, err := s.config.Reconciler.Reconcile(ctx, work)
			if err != nil {
				s.logger.Warn(
					"work reconciliation failed",
					"work_id", work.ID,
					"err", err,
				)
				return
			}
			if updated.Version != work.Version {
				changed.Add(1)
			}
		}(&works[i])
	}
	wg.Wait()
	s.observe("ok")
	s.logger.Debug(
		"reconciliation pass complete",
		"works", len(works),
		"changed", changed.Load(),
	)
	return int(changed.Load()), ctx.Err()
}

func (s *Scheduler) observe(result string) {
	if s.runs != nil {
		s.runs.WithLabelValues(result).Inc()
	}
}
