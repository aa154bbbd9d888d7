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

// Package binder mints approved works on the ledger and resolves the created
// work object
package binder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMaxReadRetries = 5
	DefaultReadRetryDelay = 1 * time.Second
	DefaultTimeout        = 60 * time.Second
	maxReadRetryDelay     = 10 * time.Second
)

var (
	ErrNotApproved       = database.ErrNotApproved
	ErrDuplicateHash     = errors.New("file or metadata hash already registered")
	ErrConfigMissing     = errors.New("ledger package or registry not configured")
	ErrObjectIDNotFound  = errors.New("created work object not found")
	ErrTransactionFailed = errors.New("ledger transaction failed")
)

// ObjectIDNotFoundError carries the digest of a transaction whose created
// object could not be read back. Resume retries with the digest
type ObjectIDNotFoundError struct {
	Digest string
}

func (e *ObjectIDNotFoundError) Error() string {
	return fmt.Sprintf("created work object not found in transaction %s", e.Digest)
}

func (e *ObjectIDNotFoundError) Is(target error) bool {
	return target == ErrObjectIDNotFound
}

// TransactionFailedError preserves the ledger failure message
type TransactionFailedError struct {
	Digest  string
	Message string
}

func (e *TransactionFailedError) Error() string {
	if e.Digest == "" {
		return "ledger transaction failed: " + e.Message
	}
	return fmt.Sprintf("ledger transaction %s failed: %s", e.Digest, e.Message)
}

func (e *TransactionFailedError) Is(target error) bool {
	return target == ErrTransactionFailed
}

type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	Ledger         ledger.Client
	Signer         keystore.Signer
	PackageID      string
	RegistryID     string
	MaxReadRetries int
	ReadRetryDelay time.Duration
	Timeout        time.Duration
}

// Result identifies the minted work object
type Result struct {
	NFTObjectID string
	TxDigest    string
	PackageID   string
	Owner       string
	OwnerKind   models.OwnerKind
}

type Binder struct {
	config  Config
	logger  *slog.Logger
	metrics *binderMetrics
}

type binderMetrics struct {
	mints       *prometheus.CounterVec
	readRetries prometheus.Counter
	duration    prometheus.Histogram
}

func New(cfg Config) *Binder {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.MaxReadRetries <= 0 {
		cfg.MaxReadRetries = DefaultMaxReadRetries
	}
	if cfg.ReadRetryDelay <= 0 {
		cfg.ReadRetryDelay = DefaultReadRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	b := &Binder{
		config: cfg,
		logger: cfg.Logger.With("component", "binder"),
	}
	if cfg.PromRegistry != nil {
		b.initMetrics(cfg.PromRegistry)
	}
	return b
}

func (b *Binder) initMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	b.metrics = &binderMetrics{
		mints: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binder_mints_total",
				Help: "mint attempts by result",
			},
			[]string{"result"},
		),
		readRetries: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "binder_read_retries_total",
				Help: "transaction re-reads while resolving created objects",
			},
		),
		duration: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "binder_mint_duration_seconds",
				Help:    "time from submission to resolved work object",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Configured reports ErrConfigMissing when minting cannot be attempted
func (b *Binder) Configured() error {
	switch {
	case b.config.Ledger == nil:
		return fmt.Errorf("%w: no ledger client", ErrConfigMissing)
	case b.config.Signer == nil:
		return fmt.Errorf("%w: no signing key", ErrConfigMissing)
	case b.config.PackageID == "":
		return fmt.Errorf("%w: package id", ErrConfigMissing)
	case b.config.RegistryID == "":
		return fmt.Errorf("%w: registry id", ErrConfigMissing)
	}
	return nil
}

// PackageID returns the configured package
func (b *Binder) PackageID() string {
	return b.config.PackageID
}

// Mint registers the approved proof's work on the ledger. Only the stored
// digests, blob references and signatures of the proof are submitted. Once
// sent, the submission is not cancelled with ctx
func (b *Binder) Mint(
	ctx context.Context,
	proof *models.ProofRecord,
	work *models.WorkMirror,
) (*Result, error) {
	res, err := b.mint(ctx, proof, work)
	b.observe(err)
	return res, err
}

func (b *Binder) mint(
	ctx context.Context,
	proof *models.ProofRecord,
	work *models.WorkMirror,
) (*Result, error) {
	if proof.Status != models.ProofStatusApproved {
		return nil, ErrNotApproved
	}
	if err := b.Configured(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := ledger.RegisterWorkArgs{
		RegistryID:      b.config.RegistryID,
		Author:          proof.Wallet,
		FileHash:        proof.FileHash,
		MetaHash:        proof.MetaHash,
		FileRef:         proof.BlobRefs.File,
		MetaRef:         proof.BlobRefs.Metadata,
		CoverRef:        proof.BlobRefs.Cover,
		AuthorSignature: proof.AuthorSignature,
		SellType:        work.SellType.Code(),
		Royalty:         uint8(min(max(work.Royalty, 0), 100)), //nolint:gosec
	}
	if proof.Approval != nil {
		args.AdminSignature = proof.Approval.Signature
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.Timeout)
	defer cancel()
	start := time.Now()
	b.logger.Info(
		"submitting work registration",
		"proof_id", proof.ID,
		"work_id", work.ID,
		"package_id", b.config.PackageID,
	)
	tx, err := b.config.Ledger.ExecuteMoveCall(
		sendCtx,
		b.config.Signer,
		ledger.RegisterWorkCall(b.config.PackageID, args),
	)
	if err != nil {
		return nil, mapSubmitError(err)
	}
	res, err := b.resolve(sendCtx, tx, false)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.duration.Observe(time.Since(start).Seconds())
	}
	b.logger.Info(
		"work minted",
		"work_id", work.ID,
		"object_id", res.NFTObjectID,
		"tx_digest", res.TxDigest,
	)
	return res, nil
}

// Resume re-reads an earlier mint transaction by digest
func (b *Binder) Resume(ctx context.Context, digest string) (*Result, error) {
	res, err := b.resume(ctx, digest)
	b.observe(err)
	return res, err
}

func (b *Binder) resume(ctx context.Context, digest string) (*Result, error) {
	if b.config.Ledger == nil {
		return nil, fmt.Errorf("%w: no ledger client", ErrConfigMissing)
	}
	readCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()
	return b.resolve(readCtx, &ledger.Transaction{Digest: digest}, true)
}

// resolve finds the created work object, re-reading the transaction with
// backoff while its changes are not yet visible. With readFirst the first
// read happens immediately
func (b *Binder) resolve(
	ctx context.Context,
	tx *ledger.Transaction,
	readFirst bool,
) (*Result, error) {
	digest := tx.Digest
	if !readFirst {
		if res, done, err := b.inspect(tx); done {
			return res, err
		}
	}
	delay := b.config.ReadRetryDelay
	unknown := 0
	for attempt := 1; attempt <= b.config.MaxReadRetries; attempt++ {
		if attempt > 1 || !readFirst {
			select {
			case <-ctx.Done():
				return nil, &ObjectIDNotFoundError{Digest: digest}
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReadRetryDelay)
			if b.metrics != nil {
				b.metrics.readRetries.Inc()
			}
		}
		read, err := b.config.Ledger.GetTransaction(ctx, digest)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				unknown++
			}
			b.logger.Debug(
				"transaction read failed",
				"tx_digest", digest,
				"attempt", attempt,
				"err", err,
			)
			continue
		}
		if res, done, err := b.inspect(read); done {
			return res, err
		}
	}
	if readFirst && unknown > 0 && unknown == b.config.MaxReadRetries {
		// The ledger never saw the transaction, so it can be submitted again
		return nil, &TransactionFailedError{
			Digest:  digest,
			Message: "transaction not found on ledger",
		}
	}
	b.logger.Warn(
		"created work object not found",
		"tx_digest", digest,
		"retries", b.config.MaxReadRetries,
	)
	return nil, &ObjectIDNotFoundError{Digest: digest}
}

// inspect reports done when tx failed or shows the created work object
func (b *Binder) inspect(tx *ledger.Transaction) (*Result, bool, error) {
	if tx.Status != "" && !tx.Succeeded() {
		return nil, true, mapFailure(tx)
	}
	created, ok := tx.CreatedObject(ledger.WorkTypeSuffix)
	if !ok {
		return nil, false, nil
	}
	res := &Result{
		NFTObjectID: created.ObjectID,
		TxDigest:    tx.Digest,
		PackageID:   b.config.PackageID,
	}
	if created.Owner != nil {
		res.Owner = created.Owner.Address
		res.OwnerKind = models.OwnerKind(created.Owner.Kind)
	}
	if res.PackageID == "" {
		res.PackageID, _ = strings.CutSuffix(created.ObjectType, ledger.WorkTypeSuffix)
	}
	return res, true, nil
}

func isDuplicate(msg string) bool {
	if code, ok := ledger.AbortCode(msg); ok && code == ledger.AbortDuplicateHash {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "duplicate")
}

func mapSubmitError(err error) error {
	var submitErr *ledger.SubmitError
	switch {
	case errors.As(err, &submitErr) && submitErr.Digest != "":
		// Only a re-read by digest can tell whether the work was registered
		return &ObjectIDNotFoundError{Digest: submitErr.Digest}
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrConfigMissing, err)
	case isDuplicate(err.Error()):
		return fmt.Errorf("%w: %w", ErrDuplicateHash, err)
	default:
		return &TransactionFailedError{Message: err.Error()}
	}
}

func mapFailure(tx *ledger.Transaction) error {
	if isDuplicate(tx.Error) {
		return fmt.Errorf("%w: transaction %s: %s", ErrDuplicateHash, tx.Digest, tx.Error)
	}
	return &TransactionFailedError{Digest: tx.Digest, Message: tx.Error}
}

func (b *Binder) observe(err error) {
	if b.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateHash):
		result = "duplicate_hash"
	case errors.Is(err, ErrConfigMissing):
		result = "config_missing"
	case errors.Is(err, ErrObjectIDNotFound):
		result = "object_id_not_found"
	case errors.Is(err, ErrNotApproved):
		result = "not_approved"
	default:
		result = "transaction_failed"
	}
	b.metrics.mints.WithLabelValues(result).Inc()
}
