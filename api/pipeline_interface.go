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
	"context"

	"github.com/legiau879778/suimusic-sub000/approval"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/pipeline"
	"github.com/legiau879778/suimusic-sub000/reconcile"
)

// Pipeline is the set of operations served by the API. It is implemented
// by pipeline.Service
type Pipeline interface {
	SubmitProof(ctx context.Context, claim pipeline.Claim) (*models.ProofRecord, error)
	GetProof(ctx context.Context, id string) (*models.ProofRecord, error)
	ListProofs(ctx context.Context, status *models.ProofStatus) ([]models.ProofRecord, error)
	GetWork(ctx context.Context, id string) (*models.WorkMirror, error)
	GetWorkByProof(ctx context.Context, proofID string) (*models.WorkMirror, error)
	ListAudit(ctx context.Context, workID string) ([]models.ApprovalAudit, error)
	ApproveWork(ctx context.Context, workID string, in approval.ApproveInput) (*models.WorkMirror, error)
	RejectWork(ctx context.Context, workID string, in approval.RejectInput) (*models.WorkMirror, error)
	MintWork(ctx context.Context, proofID string) (*models.WorkMirror, error)
	ReconcileOwnership(ctx context.Context, workID string) (*models.WorkMirror, error)
	LicenseStats(ctx context.Context, workID string) (reconcile.Stats, error)
	PutBlob(ctx context.Context, data []byte) (string, error)
	GetBlob(ctx context.Context, ref string) ([]byte, error)
}

var _ Pipeline = (*pipeline.Service)(nil)
