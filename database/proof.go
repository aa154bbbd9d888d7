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

package database

import (
	"context"
	"errors"
	"time"

	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/legiau879778/suimusic-sub000/internal/ids"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProofEvent string

const (
	ProofEventAttest  ProofEvent = "attest"
	ProofEventApprove ProofEvent = "approve"
	ProofEventReject  ProofEvent = "reject"
)

// ProofInput holds the fields of a new claim
type ProofInput struct {
	AuthorID              string
	Wallet                string
	FileHash              string
	MetaHash              string
	Message               string
	AuthorSignature       string
	SignatureVerifyReason models.VerifyReason
	BlobRefs              models.BlobRefs
	Metadata              types.JSONDocument
	SignatureVerified     bool
}

// ProofPatch is shallow merged into a stored proof. Nil and empty fields are
// left untouched. Status is never part of a patch
type ProofPatch struct {
	Attestation           *models.Attestation
	Approval              *models.Approval
	SignatureVerified     *bool
	SignatureVerifyReason models.VerifyReason
	RejectReason          string
	Metadata              types.JSONDocument
}

// Transition is the result of a successful state change
type Transition struct {
	Proof *models.ProofRecord
	From  models.ProofStatus
	To    models.ProofStatus
}

// nextStatus is the proof state machine
func nextStatus(
	from models.ProofStatus,
	event ProofEvent,
) (models.ProofStatus, bool) {
	switch event {
	case ProofEventAttest:
		if from == models.ProofStatusSubmitted {
			return models.ProofStatusTsaAttested, true
		}
	case ProofEventApprove:
		if from == models.ProofStatusSubmitted ||
			from == models.ProofStatusTsaAttested {
			return models.ProofStatusApproved, true
		}
	case ProofEventReject:
		if from == models.ProofStatusSubmitted ||
			from == models.ProofStatusTsaAttested {
			return models.ProofStatusRejected, true
		}
	}
	return from, false
}

func (in *ProofInput) validate() error {
	var fields []string
	check := func(name, val string) {
		if val == "" {
			fields = append(fields, name)
		}
	}
	check("authorId", in.AuthorID)
	check("wallet", in.Wallet)
	check("fileHash", in.FileHash)
	check("metaHash", in.MetaHash)
	check("blobRefs.file", in.BlobRefs.File)
	check("blobRefs.metadata", in.BlobRefs.Metadata)
	check("message", in.Message)
	check("authorSignature", in.AuthorSignature)
	if in.FileHash != "" && !types.IsHexDigest(in.FileHash) {
		fields = append(fields, "fileHash")
	}
	if in.MetaHash != "" && !types.IsHexDigest(in.MetaHash) {
		fields = append(fields, "metaHash")
	}
	if len(in.Metadata) > 0 {
		var doc types.JSONDocument
		if err := doc.UnmarshalJSON(in.Metadata); err != nil {
			fields = append(fields, "metadata")
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (p *ProofPatch) apply(rec *models.ProofRecord) {
	if p == nil {
		return
	}
	if p.Attestation != nil {
		rec.Attestation = p.Attestation
	}
	if p.Approval != nil {
		rec.Approval = p.Approval
	}
	if p.SignatureVerified != nil {
		rec.SignatureVerified = *p.SignatureVerified
	}
	if p.SignatureVerifyReason != "" {
		rec.SignatureVerifyReason = p.SignatureVerifyReason
	}
	if p.RejectReason != "" {
		rec.RejectReason = p.RejectReason
	}
	if len(p.Metadata) > 0 {
		rec.Metadata = p.Metadata
	}
}

func newProofRecord(in *ProofInput) *models.ProofRecord {
	reason := in.SignatureVerifyReason
	if reason == "" {
		reason = models.VerifyReasonNotVerified
	}
	return &models.ProofRecord{
		ID:                    ids.New(),
		CreatedAt:             time.Now().UTC(),
		Status:                models.ProofStatusSubmitted,
		AuthorID:              in.AuthorID,
		Wallet:                in.Wallet,
		FileHash:              in.FileHash,
		MetaHash:              in.MetaHash,
		BlobRefs:              in.BlobRefs,
		Message:               in.Message,
		AuthorSignature:       in.AuthorSignature,
		SignatureVerified:     in.SignatureVerified,
		SignatureVerifyReason: reason,
		Metadata:              in.Metadata,
	}
}

// CreateProof persists a new claim in status submitted
func (d *Database) CreateProof(
	ctx context.Context,
	in ProofInput,
) (*models.ProofRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rec := newProofRecord(&in)
	if err := d.DB().WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// GetProof returns the proof with the given id
func (d *Database) GetProof(
	ctx context.Context,
	id string,
) (*models.ProofRecord, error) {
	return getProof(d.DB().WithContext(ctx), id)
}

// ListProofs returns all proofs, optionally filtered by status. No ordering
// is guaranteed
func (d *Database) ListProofs(
	ctx context.Context,
	status *models.ProofStatus,
) ([]models.ProofRecord, error) {
	var ret []models.ProofRecord
	query := d.DB().WithContext(ctx)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if err := query.Find(&ret).Error; err != nil {
		return nil, err
	}
	return ret, nil
}

// UpdateProof merges the patch into the stored proof without changing its
// status
func (d *Database) UpdateProof(
	ctx context.Context,
	id string,
	patch ProofPatch,
) (*models.ProofRecord, error) {
	unlock := d.locks.Lock(id)
	defer unlock()
	var ret *models.ProofRecord
	err := d.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := getProof(tx, id)
		if err != nil {
			return err
		}
		patch.apply(rec)
		if err := updateVersioned(tx, rec, &rec.Version); err != nil {
			return err
		}
		ret = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// TransitionProof is the only way to change the status of a proof. The
// patch is applied together with the new status
func (d *Database) TransitionProof(
	ctx context.Context,
	id string,
	event ProofEvent,
	patch ProofPatch,
) (*Transition, error) {
	unlock := d.locks.Lock(id)
	defer unlock()
	var ret *Transition
	err := d.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := transitionProof(tx, id, event, patch)
		if err != nil {
			return err
		}
		ret = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func transitionProof(
	tx *gorm.DB,
	id string,
	event ProofEvent,
	patch ProofPatch,
) (*Transition, error) {
	rec, err := getProof(tx, id)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	to, ok := nextStatus(from, event)
	if !ok {
		return nil, &IllegalTransitionError{From: from, Event: event}
	}
	patch.apply(rec)
	rec.Status = to
	if err := updateVersioned(tx, rec, &rec.Version); err != nil {
		return nil, err
	}
	return &Transition{Proof: rec, From: from, To: to}, nil
}

func getProof(db *gorm.DB, id string) (*models.ProofRecord, error) {
	var rec models.ProofRecord
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// updateVersioned writes all columns of rec if the stored version still
// matches, bumping the version on success
func updateVersioned(tx *gorm.DB, rec any, version *uint64) error {
	prev := *version
	*version = prev + 1
	result := tx.Model(rec).
		Where("version = ?", prev).
		Select("*").
		Omit(clause.Associations, "created_at").
		Updates(rec)
	if result.Error != nil {
		*version = prev
		return result.Error
	}
	if result.RowsAffected == 0 {
		*version = prev
		return ErrConcurrentUpdate
	}
	return nil
}
