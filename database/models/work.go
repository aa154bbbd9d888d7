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

package models

import (
	"slices"
	"time"

	"github.com/legiau879778/suimusic-sub000/database/types"
)

type SellType string

const (
	SellTypeNone      SellType = "none"
	SellTypeExclusive SellType = "exclusive"
	SellTypeLicense   SellType = "license"
)

// Valid returns true if the sell type is known
func (s SellType) Valid() bool {
	switch s {
	case SellTypeNone, SellTypeExclusive, SellTypeLicense:
		return true
	default:
		return false
	}
}

// Code returns the numeric encoding used by the work Move module
func (s SellType) Code() uint8 {
	switch s {
	case SellTypeExclusive:
		return 1
	case SellTypeLicense:
		return 2
	default:
		return 0
	}
}

type WorkStatus string

const (
	WorkStatusPending  WorkStatus = "pending"
	WorkStatusVerified WorkStatus = "verified"
	WorkStatusRejected WorkStatus = "rejected"
)

type OwnerKind string

const (
	OwnerKindUnknown   OwnerKind = ""
	OwnerKindAddress   OwnerKind = "address"
	OwnerKindObject    OwnerKind = "object"
	OwnerKindShared    OwnerKind = "shared"
	OwnerKindImmutable OwnerKind = "immutable"
)

// WorkMirror is the off-chain projection of an on-chain work object
type WorkMirror struct {
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	LastReconciledAt *time.Time       `json:"lastReconciledAt,omitempty"`
	ApprovalMap      types.WeightMap  `json:"approvalMap"            gorm:"type:text"`
	ID               string           `json:"id"                     gorm:"primaryKey;size:26"`
	ProofID          string           `json:"proofId"                gorm:"size:26;uniqueIndex;not null"`
	Title            string           `json:"title"                  gorm:"size:512"`
	AuthorID         string           `json:"authorId"               gorm:"size:255;index"`
	AuthorWallet     string           `json:"authorWallet"           gorm:"size:66;index"`
	FileHash         string           `json:"fileHash"               gorm:"size:64;index"`
	MetaHash         string           `json:"metaHash"               gorm:"size:64;index"`
	SellType         SellType         `json:"sellType"               gorm:"size:16"`
	Status           WorkStatus       `json:"status"                 gorm:"size:16;index;not null"`
	NFTObjectID      string           `json:"nftObjectId,omitempty"  gorm:"size:66;index"`
	TxDigest         string           `json:"txDigest,omitempty"     gorm:"size:128"`
	PackageID        string           `json:"packageId,omitempty"    gorm:"size:66"`
	OwnerKind        OwnerKind        `json:"ownerKind,omitempty"    gorm:"size:16"`
	BlobRefs         BlobRefs         `json:"blobRefs"               gorm:"type:text;serializer:json"`
	RejectedBy       types.StringList `json:"rejectedBy,omitempty"   gorm:"type:text"`
	Licenses         []License        `json:"licenses"               gorm:"foreignKey:WorkID;references:ID"`
	Royalty          int              `json:"royalty"`
	QuorumWeight     int              `json:"quorumWeight"           gorm:"not null;default:1"`
	Version          uint64           `json:"version"                gorm:"not null;default:0"`
}

func (WorkMirror) TableName() string {
	return "work_mirror"
}

// Bound returns true once the work has been minted and bound to a ledger object
func (w *WorkMirror) Bound() bool {
	return w.NFTObjectID != ""
}

// ApprovalTotal returns the accumulated reviewer weight
func (w *WorkMirror) ApprovalTotal() int {
	return w.ApprovalMap.Total()
}

// HasLicense returns true if a grant with the given transaction digest is recorded
func (w *WorkMirror) HasLicense(txDigest string) bool {
	return slices.ContainsFunc(w.Licenses, func(l License) bool {
		return l.TxDigest == txDigest
	})
}

// License is one append-only license grant for a work
type License struct {
	IssuedAt time.Time `json:"issuedAt"`
	WorkID   string    `json:"-"        gorm:"size:26;uniqueIndex:work_license_tx;not null"`
	Licensee string    `json:"licensee" gorm:"size:66"`
	TxDigest string    `json:"txDigest" gorm:"size:128;uniqueIndex:work_license_tx;not null"`
	ID       uint      `json:"-"        gorm:"primarykey"`
	Royalty  int       `json:"royalty"`
}

func (License) TableName() string {
	return "work_license"
}
