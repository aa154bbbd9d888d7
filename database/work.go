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
	"fmt"
	"time"

	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/legiau879778/suimusic-sub000/internal/ids"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultQuorumWeight = 1

// WorkInput holds the sell terms of a work created alongside a proof
type WorkInput struct {
	Title        string
	SellType     models.SellType
	Royalty      int
	QuorumWeight int
}

// WorkFilter narrows ListWorks
type WorkFilter struct {
	Status *models.WorkStatus
	// Bound selects works with (true) or without (false) a ledger object
	Bound *bool
	Limit int
}

// BindInput holds the ledger facts produced by a successful mint
type BindInput struct {
	NFTObjectID string
	TxDigest    string
	PackageID   string
	OwnerKind   models.OwnerKind
}

// WorkDecision describes the side effects of an approval decision applied
// atomically with the work update
type WorkDecision struct {
	Audit *models.ApprovalAudit
	Patch ProofPatch
	// Event is applied to the linked proof when set
	Event ProofEvent
}

func (in *WorkInput) validate() []string {
	var fields []string
	if in.SellType == "" {
		in.SellType = models.SellTypeNone
	}
	if !in.SellType.Valid() {
		fields = append(fields, "sellType")
	}
	if in.Royalty < 0 || in.Royalty > 100 {
		fields = append(fields, "royalty")
	}
	if in.QuorumWeight == 0 {
		in.QuorumWeight = DefaultQuorumWeight
	}
	if in.QuorumWeight < 1 {
		fields = append(fields, "quorumWeight")
	}
	return fields
}

func newWorkMirror(proof *models.ProofRecord, in *WorkInput) *models.WorkMirror {
	return &models.WorkMirror{
		ID:           ids.New(),
		CreatedAt:    time.Now().UTC(),
		ProofID:      proof.ID,
		Title:        in.Title,
		AuthorID:     proof.AuthorID,
		AuthorWallet: proof.Wallet,
		FileHash:     proof.FileHash,
		MetaHash:     proof.MetaHash,
		BlobRefs:     proof.BlobRefs,
		SellType:     in.SellType,
		Royalty:      in.Royalty,
		Status:       models.WorkStatusPending,
		ApprovalMap:  types.WeightMap{},
		QuorumWeight: in.QuorumWeight,
	}
}

// ValidateClaim reports every invalid field of a claim and its sell terms
func ValidateClaim(proofIn ProofInput, workIn WorkInput) error {
	return validateClaim(&proofIn, &workIn)
}

func validateClaim(proofIn *ProofInput, workIn *WorkInput) error {
	var fields []string
	if err := proofIn.validate(); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		fields = verr.Fields
	}
	fields = append(fields, workIn.validate()...)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CreateProofWithWork persists a new claim and its pending work mirror in a
// single transaction
func (d *Database) CreateProofWithWork(
	ctx context.Context,
	proofIn ProofInput,
	workIn WorkInput,
) (*models.ProofRecord, *models.WorkMirror, error) {
	if err := validateClaim(&proofIn, &workIn); err != nil {
		return nil, nil, err
	}
	proof := newProofRecord(&proofIn)
	work := newWorkMirror(proof, &workIn)
	err := d.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(proof).Error; err != nil {
			return err
		}
		return tx.Create(work).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return proof, work, nil
}

// CreateWork links a new pending work mirror to an existing proof
func (d *Database) CreateWork(
	ctx context.Context,
	proofID string,
	in WorkInput,
) (*models.WorkMirror, error) {
	if fields := in.validate(); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	unlock := d.locks.Lock(proofID)
	defer unlock()
	var ret *models.WorkMirror
	err := d.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proof, err := getProof(tx, proofID)
		if err != nil {
			return err
		}
		work := newWorkMirror(proof, &in)
		if proof.Status == models.ProofStatusApproved {
			work.Status = models.WorkStatusVerified
		} else if proof.Status == models.ProofStatusRejected {
			work.Status = models.WorkStatusRejected
		}
		if err := tx.Create(work).Error; err != nil {
			return err
		}
		ret = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetWork returns the work with the given id including its licenses
func (d *Database) GetWork(
	ctx context.Context,
	id string,
) (*models.WorkMirror, error) {
	return getWork(d.DB().WithContext(ctx), "id = ?", id)
}

// GetWorkByProof returns the work linked to a proof
func (d *Database) GetWorkByProof(
	ctx context.Context,
	proofID string,
) (*models.WorkMirror, error) {
	return getWork(d.DB().WithContext(ctx), "proof_id = ?", proofID)
}

// ListWorks returns works matching the filter ordered by id
func (d *Database) ListWorks(
	ctx context.Context,
	filter WorkFilter,
) ([]models.WorkMirror, error) {
	query := d.DB().WithContext(ctx).Preload("Licenses", orderByID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Bound != nil {
		if *filter.Bound {
			query = query.Where("nft_object_id <> ''")
		} else {
			query = query.Where("nft_object_id = '' OR nft_object_id IS NULL")
		}
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var ret []models.WorkMirror
	if err := query.Order("id").Find(&ret).Error; err != nil {
		return nil, err
	}
	return ret, nil
}

// UpdateWork loads the work, applies fn and stores the result. Ledger
// binding fields cannot be changed here, use BindWork
func (d *Database) UpdateWork(
	ctx context.Context,
	id string,
	fn func(*models.WorkMirror) error,
) (*models.WorkMirror, error) {
	return d.DecideWork(
		ctx,
		id,
		func(w *models.WorkMirror) (*WorkDecision, error) {
			return nil, fn(w)
		},
	)
}

// DecideWork applies fn to the work and, in the same transaction, applies
// the returned decision to the linked proof and the audit trail
func (d *Database) DecideWork(
	ctx context.Context,
	id string,
	fn func(*models.WorkMirror) (*WorkDecision, error),
) (*models.WorkMirror, error) {
	var ret *models.WorkMirror
	err := d.withWorkLock(ctx, id, func(tx *gorm.DB, work *models.WorkMirror) error {
		prev := *work
		prev.ApprovalMap = work.ApprovalMap.Clone()
		decision, err := fn(work)
		if err != nil {
			return err
		}
		if err := checkWorkUpdate(&prev, work); err != nil {
			return err
		}
		if err := updateVersioned(tx, work, &work.Version); err != nil {
			return err
		}
		if decision != nil {
			if decision.Event != "" {
				if _, err := transitionProof(tx, work.ProofID, decision.Event, decision.Patch); err != nil {
					return err
				}
			}
			if decision.Audit != nil {
				decision.Audit.WorkID = work.ID
				if decision.Audit.Time.IsZero() {
					decision.Audit.Time = time.Now().UTC()
				}
				if err := tx.Create(decision.Audit).Error; err != nil {
					return err
				}
			}
		}
		ret = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// BindWork records the ledger object created for a work. The linked proof
// must be approved
func (d *Database) BindWork(
	ctx context.Context,
	id string,
	in BindInput,
) (*models.WorkMirror, error) {
	if in.NFTObjectID == "" {
		return nil, &ValidationError{Fields: []string{"nftObjectId"}}
	}
	var ret *models.WorkMirror
	err := d.withWorkLock(ctx, id, func(tx *gorm.DB, work *models.WorkMirror) error {
		proof, err := getProof(tx, work.ProofID)
		if err != nil {
			return err
		}
		if proof.Status != models.ProofStatusApproved {
			return ErrNotApproved
		}
		if work.Bound() {
			return ErrAlreadyBound
		}
		work.NFTObjectID = in.NFTObjectID
		work.TxDigest = in.TxDigest
		work.PackageID = in.PackageID
		work.OwnerKind = in.OwnerKind
		if err := updateVersioned(tx, work, &work.Version); err != nil {
			return err
		}
		ret = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// RecordMintSubmission stores the digest of a submitted mint transaction
// whose created object is not yet known
func (d *Database) RecordMintSubmission(
	ctx context.Context,
	id string,
	txDigest string,
	packageID string,
) (*models.WorkMirror, error) {
	var ret *models.WorkMirror
	err := d.withWorkLock(ctx, id, func(tx *gorm.DB, work *models.WorkMirror) error {
		if work.Bound() {
			return ErrAlreadyBound
		}
		work.TxDigest = txDigest
		work.PackageID = packageID
		if err := updateVersioned(tx, work, &work.Version); err != nil {
			return err
		}
		ret = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// AppendLicenses adds license grants not yet recorded for the work. Grants
// are identified by transaction digest and never modified once stored
func (d *Database) AppendLicenses(
	ctx context.Context,
	id string,
	licenses []models.License,
) (*models.WorkMirror, int, error) {
	var ret *models.WorkMirror
	added := 0
	err := d.withWorkLock(ctx, id, func(tx *gorm.DB, work *models.WorkMirror) error {
		for _, l := range licenses {
			if l.TxDigest == "" || work.HasLicense(l.TxDigest) {
				continue
			}
			l.ID = 0
			l.WorkID = work.ID
			if l.IssuedAt.IsZero() {
				l.IssuedAt = time.Now().UTC()
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&l)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				work.Licenses = append(work.Licenses, l)
				added++
			}
		}
		ret = work
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ret, added, nil
}

// AddAudit appends an audit row
func (d *Database) AddAudit(
	ctx context.Context,
	audit *models.ApprovalAudit,
) error {
	if audit.Time.IsZero() {
		audit.Time = time.Now().UTC()
	}
	return d.DB().WithContext(ctx).Create(audit).Error
}

// ListAudit returns the audit trail of a work in insertion order
func (d *Database) ListAudit(
	ctx context.Context,
	workID string,
) ([]models.ApprovalAudit, error) {
	var ret []models.ApprovalAudit
	err := d.DB().WithContext(ctx).
		Where("work_id = ?", workID).
		Order("id").
		Find(&ret).Error
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// withWorkLock serializes on the claim the work belongs to and runs fn with
// a freshly loaded copy inside a transaction
func (d *Database) withWorkLock(
	ctx context.Context,
	id string,
	fn func(*gorm.DB, *models.WorkMirror) error,
) error {
	db := d.DB().WithContext(ctx)
	peek, err := getWork(db, "id = ?", id)
	if err != nil {
		return err
	}
	unlock := d.locks.Lock(peek.ProofID)
	defer unlock()
	return db.Transaction(func(tx *gorm.DB) error {
		work, err := getWork(tx, "id = ?", id)
		if err != nil {
			return err
		}
		return fn(tx, work)
	})
}

// checkWorkUpdate rejects changes that would break the work mirror
// invariants
func checkWorkUpdate(prev, next *models.WorkMirror) error {
	if next.ID != prev.ID || next.ProofID != prev.ProofID {
		return errors.New("work identity cannot be changed")
	}
	if next.NFTObjectID != prev.NFTObjectID ||
		next.TxDigest != prev.TxDigest ||
		next.PackageID != prev.PackageID {
		return errors.New("ledger binding can only be changed by BindWork")
	}
	if len(next.Licenses) != len(prev.Licenses) {
		return errors.New("licenses can only be changed by AppendLicenses")
	}
	for reviewer, weight := range prev.ApprovalMap {
		if next.ApprovalMap[reviewer] != weight {
			return fmt.Errorf("approval of %s cannot be changed", reviewer)
		}
	}
	if prev.Status != models.WorkStatusPending {
		if len(next.ApprovalMap) != len(prev.ApprovalMap) ||
			next.Status != prev.Status {
			return fmt.Errorf("work is %s and cannot change", prev.Status)
		}
	}
	return nil
}

func getWork(db *gorm.DB, query string, arg string) (*models.WorkMirror, error) {
	var work models.WorkMirror
	err := db.Preload("Licenses", orderByID).Where(query, arg).First(&work).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if work.ApprovalMap == nil {
		work.ApprovalMap = types.WeightMap{}
	}
	return &work, nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}
