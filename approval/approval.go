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

// Package approval accumulates weighted reviewer approvals for works until
// their quorum is reached, or records a rejection
package approval

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
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/legiau879778/suimusic-sub000/signature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrAlreadyDecided     = errors.New("work has already been decided")
	ErrDuplicateApproval  = errors.New("reviewer has already approved this work")
	ErrReviewerRequired   = errors.New("reviewer is required")
	ErrReviewerNotAllowed = errors.New("reviewer is not allowed")
	ErrInvalidWeight      = errors.New("invalid approval weight")
	ErrInvalidSignature   = errors.New("invalid reviewer signature")
	ErrReasonRequired     = errors.New("rejection reason is required")
)

// ApproveInput is one reviewer approval
type ApproveInput struct {
	Reviewer string
	// Proof is an optional free-form reference such as a review URL
	Proof    string
	TxDigest string
	// Signature optionally signs Message, or ApprovalMessage when Message
	// is empty, with the reviewer key
	Signature string
	Message   string
	Weight    int
}

// RejectInput is one reviewer rejection
type RejectInput struct {
	Reviewer  string
	Reason    string
	Proof     string
	Signature string
	Message   string
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	EventBus     *event.EventBus
	Verifier     signature.Verifier
	// Reviewers maps allow-listed reviewer addresses to their maximum
	// weight. An empty map allows any reviewer with any positive weight
	Reviewers map[string]int
}

type Coordinator struct {
	config    Config
	logger    *slog.Logger
	reviewers map[string]int
	metrics   *approvalMetrics
}

type approvalMetrics struct {
	decisions *prometheus.CounterVec
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signature.SuiVerifier{}
	}
	c := &Coordinator{
		config:    cfg,
		logger:    cfg.Logger.With("component", "approval"),
		reviewers: make(map[string]int, len(cfg.Reviewers)),
	}
	for addr, maxWeight := range cfg.Reviewers {
		c.reviewers[signature.NormalizeAddress(addr)] = maxWeight
	}
	if len(c.reviewers) == 0 {
		c.logger.Warn("no reviewer allow-list configured, any reviewer may decide works")
	}
	if cfg.PromRegistry != nil {
		c.metrics = &approvalMetrics{
			decisions: promauto.With(cfg.PromRegistry).NewCounterVec(
				prometheus.CounterOpts{
					Name: "approval_decisions_total",
					Help: "reviewer decisions by action and result",
				},
				[]string{"action", "result"},
			),
		}
	}
	return c
}

// ApprovalMessage is the canonical message a reviewer signs to approve a work
func ApprovalMessage(workID string, reviewer string, weight int) []byte {
	return fmt.Appendf(
		nil,
		"suimusic:approve:%s:%s:%d",
		workID,
		signature.NormalizeAddress(reviewer),
		weight,
	)
}

// RejectionMessage is the canonical message a reviewer signs to reject a work
func RejectionMessage(workID string, reviewer string, reason string) []byte {
	return fmt.Appendf(
		nil,
		"suimusic:reject:%s:%s:%s",
		workID,
		signature.NormalizeAddress(reviewer),
		reason,
	)
}

// checkReviewer returns the normalized reviewer and its weight cap
func (c *Coordinator) checkReviewer(reviewer string) (string, int, error) {
	if strings.TrimSpace(reviewer) == "" {
		return "", 0, ErrReviewerRequired
	}
	addr := signature.NormalizeAddress(reviewer)
	if len(c.reviewers) == 0 {
		return addr, 0, nil
	}
	maxWeight, ok := c.reviewers[addr]
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrReviewerNotAllowed, addr)
	}
	return addr, maxWeight, nil
}

func (c *Coordinator) checkSignature(addr, sig string, msg []byte) error {
	if sig == "" {
		return nil
	}
	if !c.config.Verifier.Verify(msg, sig, addr) {
		return ErrInvalidSignature
	}
	return nil
}

// Approve records a weighted approval. The work flips to verified and its
// proof to approved once the accumulated weight reaches the quorum
func (c *Coordinator) Approve(
	ctx context.Context,
	workID string,
	in ApproveInput,
) (*models.WorkMirror, error) {
	work, err := c.approve(ctx, workID, in)
	c.observe("approve", err)
	return work, err
}

func (c *Coordinator) approve(
	ctx context.Context,
	workID string,
	in ApproveInput,
) (*models.WorkMirror, error) {
	reviewer, maxWeight, err := c.checkReviewer(in.Reviewer)
	if err != nil {
		return nil, err
	}
	if in.Weight < 1 || (maxWeight > 0 && in.Weight > maxWeight) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWeight, in.Weight)
	}
	msg := []byte(in.Message)
	if len(msg) == 0 {
		msg = ApprovalMessage(workID, reviewer, in.Weight)
	}
	if err := c.checkSignature(reviewer, in.Signature, msg); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var verified bool
	work, err := c.config.DB.DecideWork(
		ctx,
		workID,
		func(w *models.WorkMirror) (*database.WorkDecision, error) {
			if w.Status != models.WorkStatusPending {
				return nil, ErrAlreadyDecided
			}
			if _, ok := w.ApprovalMap[reviewer]; ok {
				return nil, ErrDuplicateApproval
			}
			w.ApprovalMap[reviewer] = in.Weight
			decision := &database.WorkDecision{
				Audit: &models.ApprovalAudit{
					Time:      now,
					Reviewer:  reviewer,
					Action:    models.AuditActionApproved,
					Weight:    in.Weight,
					Proof:     in.Proof,
					Signature: in.Signature,
					TxDigest:  in.TxDigest,
				},
			}
			if w.ApprovalTotal() >= w.QuorumWeight {
				verified = true
				w.Status = models.WorkStatusVerified
				decision.Event = database.ProofEventApprove
				decision.Patch.Approval = &models.Approval{
					Time:        now,
					AdminWallet: reviewer,
					Signature:   in.Signature,
					Mock:        in.Signature == "",
				}
			}
			return decision, nil
		},
	)
	if err != nil {
		return nil, err
	}
	c.logger.Info(
		"approval recorded",
		"work_id", work.ID,
		"reviewer", reviewer,
		"weight", in.Weight,
		"total", work.ApprovalTotal(),
		"quorum", work.QuorumWeight,
	)
	evt := c.workEvent(ctx, work, now)
	evt.Reviewer = reviewer
	evt.Weight = in.Weight
	c.emit(event.WorkApprovalEventType, evt)
	if verified {
		c.emit(event.WorkVerifiedEventType, evt)
	}
	return work, nil
}

// Reject records a decisive rejection of a pending work
func (c *Coordinator) Reject(
	ctx context.Context,
	workID string,
	in RejectInput,
) (*models.WorkMirror, error) {
	work, err := c.reject(ctx, workID, in)
	c.observe("reject", err)
	return work, err
}

func (c *Coordinator) reject(
	ctx context.Context,
	workID string,
	in RejectInput,
) (*models.WorkMirror, error) {
	reviewer, _, err := c.checkReviewer(in.Reviewer)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	msg := []byte(in.Message)
	if len(msg) == 0 {
		msg = RejectionMessage(workID, reviewer, reason)
	}
	if err := c.checkSignature(reviewer, in.Signature, msg); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	work, err := c.config.DB.DecideWork(
		ctx,
		workID,
		func(w *models.WorkMirror) (*database.WorkDecision, error) {
			if w.Status != models.WorkStatusPending {
				return nil, ErrAlreadyDecided
			}
			w.Status = models.WorkStatusRejected
			w.RejectedBy = append(w.RejectedBy, reviewer)
			return &database.WorkDecision{
				Event: database.ProofEventReject,
				Patch: database.ProofPatch{RejectReason: reason},
				Audit: &models.ApprovalAudit{
					Time:      now,
					Reviewer:  reviewer,
					Action:    models.AuditActionRejected,
					Reason:    reason,
					Proof:     in.Proof,
					Signature: in.Signature,
				},
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	c.logger.Info(
		"rejection recorded",
		"work_id", work.ID,
		"reviewer", reviewer,
	)
	evt := c.workEvent(ctx, work, now)
	evt.Reviewer = reviewer
	evt.Reason = reason
	c.emit(event.WorkRejectedEventType, evt)
	return work, nil
}

// Audit returns the decisions recorded for a work
func (c *Coordinator) Audit(
	ctx context.Context,
	workID string,
) ([]models.ApprovalAudit, error) {
	return c.config.DB.ListAudit(ctx, workID)
}

func (c *Coordinator) workEvent(
	ctx context.Context,
	work *models.WorkMirror,
	now time.Time,
) event.WorkEvent {
	evt := event.WorkEvent{
		Time:    now,
		WorkID:  work.ID,
		ProofID: work.ProofID,
		Title:   work.Title,
		Status:  string(work.Status),
		Total:   work.ApprovalTotal(),
		Quorum:  work.QuorumWeight,
		Owner:   work.AuthorWallet,
	}
	if proof, err := c.config.DB.GetProof(ctx, work.ProofID); err == nil {
		evt.ContactEmail = proof.Metadata.Field("contactEmail")
	}
	return evt
}

func (c *Coordinator) emit(eventType event.EventType, evt event.WorkEvent) {
	if c.config.EventBus == nil {
		return
	}
	c.config.EventBus.Emit(eventType, evt)
}

func (c *Coordinator) observe(action string, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyDecided):
		result = "already_decided"
	case errors.Is(err, ErrDuplicateApproval):
		result = "duplicate"
	default:
		result = "error"
	}
	c.metrics.decisions.WithLabelValues(action, result).Inc()
}
