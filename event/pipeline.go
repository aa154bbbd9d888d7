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

package event

import "time"

const (
	ProofSubmittedEventType   EventType = "proof.submitted"
	ProofAttestedEventType    EventType = "proof.attested"
	WorkApprovalEventType     EventType = "work.approval"
	WorkVerifiedEventType     EventType = "work.verified"
	WorkRejectedEventType     EventType = "work.rejected"
	WorkMintedEventType       EventType = "work.minted"
	WorkOwnerChangedEventType EventType = "work.owner_changed"
	LicenseIssuedEventType    EventType = "work.license_issued"
)

// NoticeEventTypes lists the events that produce outbound notifications
var NoticeEventTypes = []EventType{
	ProofSubmittedEventType,
	WorkVerifiedEventType,
	WorkRejectedEventType,
	WorkMintedEventType,
	WorkOwnerChangedEventType,
}

// ProofEvent carries a proof status change
type ProofEvent struct {
	ProofID  string
	WorkID   string
	AuthorID string
	Wallet   string
	Status   string
	// ContactEmail is taken from the author supplied metadata when present
	ContactEmail string
	Mock         bool
}

// WorkEvent carries a reviewer decision or a ledger change for a work
type WorkEvent struct {
	Time          time.Time
	WorkID        string
	ProofID       string
	Title         string
	Status        string
	Reviewer      string
	Reason        string
	NFTObjectID   string
	TxDigest      string
	PreviousOwner string
	Owner         string
	ContactEmail  string
	Weight        int
	Total         int
	Quorum        int
}

// LicenseEvent carries a newly discovered license grant
type LicenseEvent struct {
	IssuedAt time.Time
	WorkID   string
	Licensee string
	TxDigest string
	Royalty  int
}
