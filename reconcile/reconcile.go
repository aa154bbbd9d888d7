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

// Package reconcile keeps bound work mirrors in line with ledger ownership
// and license grants
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/signature"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultReadTimeout = 5 * time.Second
	DefaultStatsTTL    = 10 * time.Minute
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Ledger       ledger.Client
	EventBus     *event.EventBus
	ReadTimeout  time.Duration
	StatsTTL     time.Duration
	// StatsCleanupInterval of zero disables background eviction
	StatsCleanupInterval time.Duration
}

// Stats summarizes the license grants of a work
type Stats struct {
	Count          int     `json:"count"`
	AverageRoyalty float64 `json:"averageRoyalty"`
}

type Reconciler struct {
	config  Config
	logger  *slog.Logger
	stats   *cache.Cache
	metrics *reconcileMetrics
}

type reconcileMetrics struct {
	reads         *prometheus.CounterVec
	ownerChanges  prometheus.Counter
	licensesAdded prometheus.Counter
}

func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = DefaultStatsTTL
	}
	r := &Reconciler{
		config: cfg,
		logger: cfg.Logger.With("component", "reconcile"),
		stats:  cache.New(cfg.StatsTTL, cfg.StatsCleanupInterval),
	}
	if cfg.PromRegistry != nil {
		r.initMetrics(cfg.PromRegistry)
	}
	return r
}

func (r *Reconciler) initMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	r.metrics = &reconcileMetrics{
		reads: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_ledger_reads_total",
				Help: "ledger reads made while reconciling, by kind and result",
			},
			[]string{"kind", "result"},
		),
		ownerChanges: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_owner_changes_total",
				Help: "work owner changes applied from the ledger",
			},
		),
		licensesAdded: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_licenses_added_total",
				Help: "license grants appended from ledger events",
			},
		),
	}
}

func (r *Reconciler) observeRead(kind string, err error) {
	if r.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.reads.WithLabelValues(kind, result).Inc()
}

// Reconcile compares a bound work with the ledger and stores the current
// owner and any unseen license grants. Ledger read failures leave the work
// unchanged and are not returned
func (r *Reconciler) Reconcile(
	ctx context.Context,
	work *models.WorkMirror,
) (*models.WorkMirror, error) {
	if !work.Bound() || r.config.Ledger == nil {
		return work, nil
	}
	readCtx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
	defer cancel()
	obj, err := r.config.Ledger.GetObject(readCtx, work.NFTObjectID)
	r.observeRead("object", err)
	if err != nil {
		r.logger.Warn(
			"owner read failed",
			"work_id", work.ID,
			"object_id", work.NFTObjectID,
			"err", err,
		)
		return work, nil
	}
	newLicenses := r.unseenLicenses(readCtx, work)

	ret := work
	if ownerDiffers(work, obj.Owner) {
		ret, err = r.applyOwner(ctx, work, obj.Owner)
		if err != nil {
			return work, err
		}
	}
	if len(newLicenses) > 0 {
		var added int
		ret, added, err = r.config.DB.AppendLicenses(ctx, work.ID, newLicenses)
		if err != nil {
			return work, fmt.Errorf("appending licenses: %w", err)
		}
		if added > 0 {
			r.licensesAdded(ret, added)
		}
	}
	return ret, nil
}

// ReconcileID loads a work by id and reconciles it
func (r *Reconciler) ReconcileID(
	ctx context.Context,
	workID string,
) (*models.WorkMirror, error) {
	work, err := r.config.DB.GetWork(ctx, workID)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, work)
}

func ownerDiffers(work *models.WorkMirror, owner ledger.Owner) bool {
	if models.OwnerKind(owner.Kind) != work.OwnerKind {
		return true
	}
	return owner.Address != "" && !signature.SameAddress(owner.Address, work.AuthorWallet)
}

func (r *Reconciler) applyOwner(
	ctx context.Context,
	work *models.WorkMirror,
	owner ledger.Owner,
) (*models.WorkMirror, error) {
	var previous string
	changed := false
	updated, err := r.config.DB.UpdateWork(ctx, work.ID, func(w *models.WorkMirror) error {
		if !ownerDiffers(w, owner) {
			return nil
		}
		previous = w.AuthorWallet
		if owner.Address != "" && !signature.SameAddress(owner.Address, w.AuthorWallet) {
			w.AuthorWallet = signature.NormalizeAddress(owner.Address)
			changed = true
		}
		w.OwnerKind = models.OwnerKind(owner.Kind)
		now := time.Now().UTC()
		w.LastReconciledAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating owner: %w", err)
	}
	if changed {
		r.logger.Info(
			"work owner changed",
			"work_id", updated.ID,
			"previous_owner", previous,
			"owner", updated.AuthorWallet,
		)
		if r.metrics != nil {
			r.metrics.ownerChanges.Inc()
		}
		r.emit(event.WorkOwnerChangedEventType, event.WorkEvent{
			Time:          time.Now().UTC(),
			WorkID:        updated.ID,
			ProofID:       updated.ProofID,
			Title:         updated.Title,
			Status:        string(updated.Status),
			NFTObjectID:   updated.NFTObjectID,
			PreviousOwner: previous,
			Owner:         updated.AuthorWallet,
			ContactEmail:  r.contactEmail(ctx, updated.ProofID),
		})
	}
	return updated, nil
}

func (r *Reconciler) unseenLicenses(
	ctx context.Context,
	work *models.WorkMirror,
) []models.License {
	if work.PackageID == "" {
		return nil
	}
	events, err := r.config.Ledger.QueryLicenseEvents(ctx, work.PackageID, work.NFTObjectID)
	r.observeRead("license_events", err)
	if err != nil {
		r.logger.Warn(
			"license event read failed",
			"work_id", work.ID,
			"object_id", work.NFTObjectID,
			"err", err,
		)
		return nil
	}
	var ret []models.License
	for _, evt := range events {
		if evt.TxDigest == "" || work.HasLicense(evt.TxDigest) {
			continue
		}
		ret = append(ret, models.License{
			IssuedAt: evt.Timestamp,
			Licensee: evt.Licensee,
			TxDigest: evt.TxDigest,
			Royalty:  evt.Royalty,
		})
	}
	return ret
}

func (r *Reconciler) licensesAdded(work *models.WorkMirror, added int) {
	if r.metrics != nil {
		r.metrics.licensesAdded.Add(float64(added))
	}
	r.logger.Info(
		"license grants recorded",
		"work_id", work.ID,
		"added", added,
		"total", len(work.Licenses),
	)
	for _, l := range work.Licenses[max(len(work.Licenses)-added, 0):] {
		r.emit(event.LicenseIssuedEventType, event.LicenseEvent{
			IssuedAt: l.IssuedAt,
			WorkID:   work.ID,
			Licensee: l.Licensee,
			TxDigest: l.TxDigest,
			Royalty:  l.Royalty,
		})
	}
}

func (r *Reconciler) contactEmail(ctx context.Context, proofID string) string {
	proof, err := r.config.DB.GetProof(ctx, proofID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.logger.Debug("proof lookup failed", "proof_id", proofID, "err", err)
		}
		return ""
	}
	return proof.Metadata.Field("contactEmail")
}

func (r *Reconciler) emit(eventType event.EventType, data any) {
	if r.config.EventBus == nil {
		return
	}
	r.config.EventBus.Emit(eventType, data)
}

// LicenseStats summarizes the license grants of a work. Results are cached
// per work and license count
func (r *Reconciler) LicenseStats(work *models.WorkMirror) Stats {
	key := fmt.Sprintf("%s:%d", work.ID, len(work.Licenses))
	if cached, ok := r.stats.Get(key); ok {
		if stats, ok := cached.(Stats); ok {
			return stats
		}
	}
	stats := Stats{Count: len(work.Licenses)}
	if stats.Count > 0 {
		total := 0
		for _, l := range work.Licenses {
			total += l.Royalty
		}
		stats.AverageRoyalty = float64(total) / float64(stats.Count)
	}
	r.stats.Set(key, stats, cache.DefaultExpiration)
	return stats
}
