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

import "time"

type AuditAction string

const (
	AuditActionApproved AuditAction = "approved"
	AuditActionRejected AuditAction = "rejected"
)

// ApprovalAudit is an immutable record of one reviewer decision
type ApprovalAudit struct {
	Time      time.Time   `json:"time"`
	WorkID    string      `json:"workId"              gorm:"size:26;index;not null"`
	Reviewer  string      `json:"reviewer"            gorm:"size:66;not null"`
	Action    AuditAction `json:"action"              gorm:"size:16;not null"`
	Reason    string      `json:"reason,omitempty"    gorm:"type:text"`
	Proof     string      `json:"proof,omitempty"     gorm:"type:text"`
	Signature string      `json:"signature,omitempty" gorm:"type:text"`
	TxDigest  string      `json:"txDigest,omitempty"  gorm:"size:128"`
	ID        uint        `json:"-"                   gorm:"primarykey"`
	Weight    int         `json:"weight,omitempty"`
}

func (ApprovalAudit) TableName() string {
	return "approval_audit"
}
