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
	"time"

	"github.com/legiau879778/suimusic-sub000/database/types"
)

type ProofStatus string

const (
	ProofStatusSubmitted   ProofStatus = "submitted"
	ProofStatusTsaAttested ProofStatus = "tsa_attested"
	ProofStatusApproved    ProofStatus = "approved"
	ProofStatusRejected    ProofStatus = "rejected"
)

// Valid returns true if the status is a known proof status
func (s ProofStatus) Valid() bool {
	switch s {
	case ProofStatusSubmitted,
		ProofStatusTsaAttested,
		ProofStatusApproved,
		ProofStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that accept no further transitions
func (s ProofStatus) Terminal() bool {
	return s == ProofStatusApproved || s == ProofStatusRejected
}

type VerifyReason string

const (
	VerifyReasonOK               VerifyReason = "OK"
	VerifyReasonInvalidSignature VerifyReason = "INVALID_SIGNATURE"
	VerifyReasonNotVerified      VerifyReason = "NOT_VERIFIED"
)

// BlobRefs holds content-addressable references to the uploaded artifacts
type BlobRefs struct {
	File     string `json:"file"`
	Metadata string `json:"metadata"`
	Cover    string `json:"cover,omitempty"`
}

// Attestation is a third-party timestamp proof over a claim
type Attestation struct {
	Time      time.Time `json:"time"`
	ID        string    `json:"id"`
	Signature string    `json:"signature"`
	Mock      bool      `json:"mock,omitempty"`
}

// Approval records the decisive approval once quorum was reached
type Approval struct {
	Time        time.Time `json:"time"`
	AdminWallet string    `json:"adminWallet"`
	Signature   string    `json:"signature,omitempty"`
	Mock        bool      `json:"mock,omitempty"`
}

// ProofRecord is one submitted copyright claim
type ProofRecord struct {
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
	Attestation           *Attestation       `json:"attestation,omitempty" gorm:"type:text;serializer:json"`
	Approval              *Approval          `json:"approval,omitempty"    gorm:"type:text;serializer:json"`
	ID                    string             `json:"id"                    gorm:"primaryKey;size:26"`
	Status                ProofStatus        `json:"status"                gorm:"size:16;index;not null"`
	AuthorID              string             `json:"authorId"              gorm:"size:255;index;not null"`
	Wallet                string             `json:"wallet"                gorm:"size:66;index;not null"`
	FileHash              string             `json:"fileHash"              gorm:"size:64;index;not null"`
	MetaHash              string             `json:"metaHash"              gorm:"size:64;index;not null"`
	Message               string             `json:"message"               gorm:"type:text"`
	AuthorSignature       string             `json:"authorSignature"       gorm:"type:text"`
	SignatureVerifyReason VerifyReason       `json:"signatureVerifyReason" gorm:"size:32"`
	RejectReason          string             `json:"rejectReason,omitempty" gorm:"type:text"`
	BlobRefs              BlobRefs           `json:"blobRefs"              gorm:"type:text;serializer:json"`
	Metadata              types.JSONDocument `json:"metadata,omitempty"    gorm:"type:text"`
	Version               uint64             `json:"version"               gorm:"not null;default:0"`
	SignatureVerified     bool               `json:"signatureVerified"`
}

func (ProofRecord) TableName() string {
	return "proof_record"
}
