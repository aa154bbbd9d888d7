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

package api

import (
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/types"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Fields   []string `json:"fields,omitempty"`
	TxDigest string   `json:"txDigest,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type BlobResponse struct {
	Ref string `json:"ref"`
}

// ProofResponse is a proof with the id of its work
type ProofResponse struct {
	*models.ProofRecord
	WorkID string `json:"workId,omitempty"`
}

// SubmitProofRequest is the body of POST /api/v1/proofs
type SubmitProofRequest struct {
	AuthorID        string             `json:"authorId"`
	Wallet          string             `json:"wallet"`
	FileHash        string             `json:"fileHash"`
	MetaHash        string             `json:"metaHash"`
	Message         string             `json:"message"`
	AuthorSignature string             `json:"authorSignature"`
	Title           string             `json:"title,omitempty"`
	SellType        models.SellType    `json:"sellType,omitempty"`
	BlobRefs        models.BlobRefs    `json:"blobRefs"`
	Metadata        types.JSONDocument `json:"metadata,omitempty"`
	Royalty         int                `json:"royalty,omitempty"`
}

// ApproveRequest is the body of POST /api/v1/works/{id}/approve
type ApproveRequest struct {
	Reviewer  string `json:"reviewer"`
	Proof     string `json:"proof,omitempty"`
	TxDigest  string `json:"txDigest,omitempty"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
	Weight    int    `json:"weight,omitempty"`
}

// RejectRequest is the body of POST /api/v1/works/{id}/reject
type RejectRequest struct {
	Reviewer  string `json:"reviewer"`
	Reason    string `json:"reason"`
	Proof     string `json:"proof,omitempty"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
}
