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

// Package pipeline composes the proof-of-authorship operations: claim
// submission, review, minting and ownership reconciliation
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/legiau879778/suimusic-sub000/approval"
	"github.com/legiau879778/suimusic-sub000/attestation"
	"github.com/legiau879778/suimusic-sub000/binder"
	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/legiau879778/suimusic-sub000/reconcile"
	"github.com/legiau879778/suimusic-sub000/signature"
)

// storeWriteTimeout bounds the writes that record a submitted mint
const storeWriteTimeout = 30 * time.Second

var (
	ErrSignature      = errors.New("author signature verification failed")
	ErrAlreadyMinted  = errors.New("work is already minted")
	ErrMintInProgress = errors.New("a mint for this proof is already in progress")
)

// Claim is an authorship claim as submitted by an author
type Claim struct {
	AuthorID  string
	Wallet    string
	FileHash  string
	MetaHash  string
	Message   string
	Signature string
	BlobRefs  models.BlobRefs
	Metadata  types.JSONDocument
	Title     string
	SellType  models.SellType
	Royalty   int
}

type Config struct {
	Logger     *slog.Logger
	DB         *database.Database
	EventBus   *event.EventBus
	Verifier   signature.Verifier
	Attester   attestation.Attester
	Approvals  *approval.Coordinator
	Binder     *binder.Binder
	Reconciler *reconcile.Reconciler
	// QuorumWeight applies to works created by SubmitProof
	QuorumWeight int
	// VerifyBlobs checks locally stored file and metadata blobs against the
	// claimed digests
	VerifyBlobs bool
}

type Service struct {
	config  Config
	logger  *slog.Logger
	stats   *reconcile.Reconciler
	mu      sync.Mutex
	minting map[string]struct{}
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signature.SuiVerifier{}
	}
	if cfg.QuorumWeight <= 0 {
		cfg.QuorumWeight = database.DefaultQuorumWeight
	}
	if cfg.Approvals == nil {
		cfg.Approvals = approval.New(approval.Config{
			Logger:   cfg.Logger,
			DB:       cfg.DB,
			EventBus: cfg.EventBus,
			Verifier: cfg.Verifier,
		})
	}
	s := &Service{
		config:  cfg,
		logger:  cfg.Logger.With("component", "pipeline"),
		stats:   cfg.Reconciler,
		minting: make(map[string]struct{}),
	}
	if s.stats == nil {
		s.stats = reconcile.New(reconcile.Config{Logger: cfg.Logger})
	}
	return s
}

func (s *Service) emit(eventType event.EventType, data any) {
	if s.config.EventBus != nil {
		s.config.EventBus.Emit(eventType, data)
	}
}

// SubmitProof validates and verifies a claim, stores it with its pending
// work and requests a timestamp attestation. Claims with a bad signature are
// not stored
func (s *Service) SubmitProof(
	ctx context.Context,
	claim Claim,
) (*models.ProofRecord, error) {
	proofIn := database.ProofInput{
		AuthorID:        strings.TrimSpace(claim.AuthorID),
		Wallet:          strings.TrimSpace(claim.Wallet),
		FileHash:        strings.ToLower(strings.TrimSpace(claim.FileHash)),
		MetaHash:        strings.ToLower(strings.TrimSpace(claim.MetaHash)),
		Message:         claim.Message,
		AuthorSignature: strings.TrimSpace(claim.Signature),
		BlobRefs:        claim.BlobRefs,
		Metadata:        claim.Metadata,
	}
	workIn := database.WorkInput{
		Title:        claim.Title,
		SellType:     claim.SellType,
		Royalty:      claim.Royalty,
		QuorumWeight: s.config.QuorumWeight,
	}
	if workIn.Title == "" {
		workIn.Title = claim.Metadata.Field("title")
	}
	if err := database.ValidateClaim(proofIn, workIn); err != nil {
		return nil, err
	}
	if s.config.VerifyBlobs {
		if err := s.checkBlobs(ctx, &proofIn); err != nil {
			return nil, err
		}
	}
	ok, reason := signature.VerifyWithReason(
		s.config.Verifier,
		[]byte(proofIn.Message),
		proofIn.AuthorSignature,
		proofIn.Wallet,
	)
	if !ok {
		s.logger.Info(
			"claim rejected",
			"author_id", proofIn.AuthorID,
			"wallet", proofIn.Wallet,
			"reason", reason,
		)
		return nil, fmt.Errorf("%w: %s", ErrSignature, reason)
	}
	proofIn.Wallet = signature.NormalizeAddress(proofIn.Wallet)
	proofIn.SignatureVerified = true
	proofIn.SignatureVerifyReason = models.VerifyReason(reason)

	proof, work, err := s.config.DB.CreateProofWithWork(ctx, proofIn, workIn)
	if err != nil {
		return nil, err
	}
	s.logger.Info(
		"claim submitted",
		"proof_id", proof.ID,
		"work_id", work.ID,
		"author_id", proof.AuthorID,
	)
	contact := proof.Metadata.Field("contactEmail")
	s.emit(event.ProofSubmittedEventType, event.ProofEvent{
		ProofID:      proof.ID,
		WorkID:       work.ID,
		AuthorID:     proof.AuthorID,
		Wallet:       proof.Wallet,
		Status:       string(proof.Status),
		ContactEmail: contact,
	})
	return s.attest(ctx, proof, work, contact), nil
}

// attest requests an attestation for a stored proof. Failures leave the
// proof submitted
func (s *Service) attest(
	ctx context.Context,
	proof *models.ProofRecord,
	work *models.WorkMirror,
	contact string,
) *models.ProofRecord {
	if s.config.Attester == nil {
		return proof
	}
	att := s.config.Attester.RequestAttestation(ctx, attestation.Request{
		Timestamp: proof.CreatedAt,
		BlobRefs:  proof.BlobRefs,
		FileHash:  proof.FileHash,
		MetaHash:  proof.MetaHash,
	})
	if att == nil {
		return proof
	}
	tr, err := s.config.DB.TransitionProof(
		ctx,
		proof.ID,
		database.ProofEventAttest,
		database.ProofPatch{Attestation: att},
	)
	if err != nil {
		s.logger.Warn(
			"failed to record attestation",
			"proof_id", proof.ID,
			"err", err,
		)
		if latest, err := s.config.DB.GetProof(ctx, proof.ID); err == nil {
			return latest
		}
		return proof
	}
	s.emit(event.ProofAttestedEventType, event.ProofEvent{
		ProofID:      tr.Proof.ID,
		WorkID:       work.ID,
		AuthorID:     tr.Proof.AuthorID,
		Wallet:       tr.Proof.Wallet,
		Status:       string(tr.To),
		ContactEmail: contact,
		Mock:         att.Mock,
	})
	return tr.Proof
}

func (s *Service) checkBlobs(ctx context.Context, in *database.ProofInput) error {
	var fields []string
	check := func(field, ref, digest string) error {
		refDigest, ok := types.BlobRefDigest(ref)
		if !ok {
			return nil
		}
		has, err := s.config.DB.HasBlob(ctx, ref)
		if err != nil {
			return err
		}
		if has && refDigest != digest {
			fields = append(fields, field)
		}
		return nil
	}
	if err := check("fileHash", in.BlobRefs.File, in.FileHash); err != nil {
		return err
	}
	if err := check("metaHash", in.BlobRefs.Metadata, in.MetaHash); err != nil {
		return err
	}
	if len(fields) > 0 {
		return &database.ValidationError{Fields: fields}
	}
	return nil
}

func (s *Service) GetProof(ctx context.Context, id string) (*models.ProofRecord, error) {
	return s.config.DB.GetProof(ctx, id)
}

func (s *Service) ListProofs(
	ctx context.Context,
	status *models.ProofStatus,
) ([]models.ProofRecord, error) {
	if status != nil && !status.Valid() {
		return nil, &database.ValidationError{Fields: []string{"status"}}
	}
	return s.config.DB.ListProofs(ctx, status)
}

func (s *Service) GetWork(ctx context.Context, id string) (*models.WorkMirror, error) {
	return s.config.DB.GetWork(ctx, id)
}

// GetWorkByProof returns the work created alongside a proof
func (s *Service) GetWorkByProof(
	ctx context.Context,
	proofID string,
) (*models.WorkMirror, error) {
	return s.config.DB.GetWorkByProof(ctx, proofID)
}

// ListAudit returns the reviewer decisions recorded for a work
func (s *Service) ListAudit(
	ctx context.Context,
	workID string,
) ([]models.ApprovalAudit, error) {
	if _, err := s.config.DB.GetWork(ctx, workID); err != nil {
		return nil, err
	}
	return s.config.DB.ListAudit(ctx, workID)
}

// ApproveWork records a reviewer approval
func (s *Service) ApproveWork(
	ctx context.Context,
	workID string,
	in approval.ApproveInput,
) (*models.WorkMirror, error) {
	return s.config.Approvals.Approve(ctx, workID, in)
}

func (s *Service) RejectWork(
	ctx context.Context,
	workID string,
	in approval.RejectInput,
) (*models.WorkMirror, error) {
	return s.config.Approvals.Reject(ctx, workID, in)
}

func (s *Service) claimMint(proofID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.minting[proofID]; ok {
		return false
	}
	s.minting[proofID] = struct{}{}
	return true
}

func (s *Service) releaseMint(proofID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.minting, proofID)
}

// MintWork registers the approved proof's work on the ledger and binds the
// created object to the work. A work holding the digest of an unresolved
// mint resumes by re-reading that transaction
func (s *Service) MintWork(
	ctx context.Context,
	proofID string,
) (*models.WorkMirror, error) {
	if s.config.Binder == nil {
		return nil, fmt.Errorf("%w: minting disabled", binder.ErrConfigMissing)
	}
	if !s.claimMint(proofID) {
		return nil, ErrMintInProgress
	}
	defer s.releaseMint(proofID)
	proof, err := s.config.DB.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	work, err := s.config.DB.GetWorkByProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if work.Bound() {
		return work, fmt.Errorf("%w: %s", ErrAlreadyMinted, work.NFTObjectID)
	}
	if proof.Status != models.ProofStatusApproved {
		return nil, binder.ErrNotApproved
	}
	var res *binder.Result
	if work.TxDigest != "" {
		s.logger.Info(
			"resuming earlier mint",
			"work_id", work.ID,
			"tx_digest", work.TxDigest,
		)
		res, err = s.config.Binder.Resume(ctx, work.TxDigest)
		if errors.Is(err, binder.ErrTransactionFailed) {
			// The earlier transaction did not register the work
			res, err = s.config.Binder.Mint(ctx, proof, work)
		}
	} else {
		res, err = s.config.Binder.Mint(ctx, proof, work)
	}
	// The ledger outcome is final once submitted, so the store writes that
	// record it must outlive the caller
	storeCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		storeWriteTimeout,
	)
	defer cancel()
	if err != nil {
		var notFound *binder.ObjectIDNotFoundError
		if errors.As(err, &notFound) && notFound.Digest != work.TxDigest {
			s.recordSubmission(storeCtx, work.ID, notFound.Digest)
		}
		return nil, err
	}
	bound, err := s.config.DB.BindWork(storeCtx, work.ID, database.BindInput{
		NFTObjectID: res.NFTObjectID,
		TxDigest:    res.TxDigest,
		PackageID:   res.PackageID,
		OwnerKind:   res.OwnerKind,
	})
	if err != nil {
		// Keep the digest so the next mint resumes instead of registering again
		if res.TxDigest != work.TxDigest {
			s.recordSubmission(storeCtx, work.ID, res.TxDigest)
		}
		return nil, fmt.Errorf("binding minted object %s: %w", res.NFTObjectID, err)
	}
	s.emit(event.WorkMintedEventType, event.WorkEvent{
		Time:         time.Now().UTC(),
		WorkID:       bound.ID,
		ProofID:      bound.ProofID,
		Title:        bound.Title,
		Status:       string(bound.Status),
		NFTObjectID:  bound.NFTObjectID,
		TxDigest:     bound.TxDigest,
		Owner:        bound.AuthorWallet,
		ContactEmail: proof.Metadata.Field("contactEmail"),
	})
	return bound, nil
}

func (s *Service) recordSubmission(ctx context.Context, workID, digest string) {
	if _, err := s.config.DB.RecordMintSubmission(
		ctx,
		workID,
		digest,
		s.config.Binder.PackageID(),
	); err != nil {
		s.logger.Error(
			"failed to record mint submission",
			"work_id", workID,
			"tx_digest", digest,
			"err", err,
		)
	}
}

// ReconcileOwnership refreshes a work from the ledger
func (s *Service) ReconcileOwnership(
	ctx context.Context,
	workID string,
) (*models.WorkMirror, error) {
	if s.config.Reconciler == nil {
		s.logger.Debug(
			"no reconciler configured, returning stored work",
			"work_id", workID,
		)
		return s.config.DB.GetWork(ctx, workID)
	}
	return s.config.Reconciler.ReconcileID(ctx, workID)
}

// LicenseStats summarizes the license grants of a work
func (s *Service) LicenseStats(
	ctx context.Context,
	workID string,
) (reconcile.Stats, error) {
	work, err := s.config.DB.GetWork(ctx, workID)
	if err != nil {
		return reconcile.Stats{}, err
	}
	return s.stats.LicenseStats(work), nil
}

func (s *Service) PutBlob(ctx context.Context, data []byte) (string, error) {
	return s.config.DB.PutBlob(ctx, data)
}

func (s *Service) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	return s.config.DB.GetBlob(ctx, ref)
}
