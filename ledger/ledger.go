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

// Package ledger describes the subset of the Sui ledger the pipeline uses:
// submitting the registration Move call and reading transactions, objects
// and license events back
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"golang.org/x/crypto/blake2b"
)

const (
	WorkModule          = "work"
	RegisterWorkFunc    = "register_work"
	WorkTypeSuffix      = "::work::Work"
	LicenseIssuedSuffix = "::work::LicenseIssued"

	ChangeCreated = "created"

	StatusSuccess = "success"
	StatusFailure = "failure"

	// AbortDuplicateHash is the abort code raised by register_work when a
	// file or metadata digest is already registered
	AbortDuplicateHash = 1
)

// ErrNotFound is returned when a transaction or object does not exist
var ErrNotFound = errors.New("ledger object not found")

// transactionDigestPrefix is the BCS type tag hashed ahead of transaction data
const transactionDigestPrefix = "TransactionData::"

// SubmitError reports an execution whose outcome is unknown, such as a
// transport failure after the node may have accepted the transaction. Digest
// is derived from the signed bytes, so the transaction can still be re-read
type SubmitError struct {
	Err    error
	Digest string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("transaction %s outcome unknown: %s", e.Digest, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// TransactionDigest returns the digest the ledger assigns to BCS encoded
// transaction data
func TransactionDigest(txBytes []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(transactionDigestPrefix))
	h.Write(txBytes)
	return base58.Encode(h.Sum(nil))
}

type OwnerKind string

const (
	OwnerAddress   OwnerKind = "address"
	OwnerObject    OwnerKind = "object"
	OwnerShared    OwnerKind = "shared"
	OwnerImmutable OwnerKind = "immutable"
)

// Owner is the ownership of an object. Address is empty for shared and
// immutable objects
type Owner struct {
	Kind    OwnerKind
	Address string
}

// UnmarshalJSON decodes the Sui owner union
func (o *Owner) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "Immutable" {
			*o = Owner{Kind: OwnerImmutable}
			return nil
		}
		return fmt.Errorf("unknown owner %q", str)
	}
	var tagged struct {
		AddressOwner *string         `json:"AddressOwner"`
		ObjectOwner  *string         `json:"ObjectOwner"`
		Shared       json.RawMessage `json:"Shared"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch {
	case tagged.AddressOwner != nil:
		*o = Owner{Kind: OwnerAddress, Address: *tagged.AddressOwner}
	case tagged.ObjectOwner != nil:
		*o = Owner{Kind: OwnerObject, Address: *tagged.ObjectOwner}
	case tagged.Shared != nil:
		*o = Owner{Kind: OwnerShared}
	default:
		return fmt.Errorf("unknown owner %s", string(data))
	}
	return nil
}

// MarshalJSON encodes the Sui owner union
func (o Owner) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OwnerAddress:
		return json.Marshal(map[string]string{"AddressOwner": o.Address})
	case OwnerObject:
		return json.Marshal(map[string]string{"ObjectOwner": o.Address})
	case OwnerShared:
		return []byte(`{"Shared":{"initial_shared_version":1}}`), nil
	case OwnerImmutable:
		return []byte(`"Immutable"`), nil
	default:
		return nil, fmt.Errorf("unknown owner kind %q", o.Kind)
	}
}

// MoveCall is a single entry function call
type MoveCall struct {
	Package  string
	Module   string
	Function string
	TypeArgs []string
	Args     []any
}

// ObjectChange is one entry of a transaction's object changes
type ObjectChange struct {
	Owner      *Owner `json:"owner,omitempty"`
	Type       string `json:"type"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType,omitempty"`
	Version    string `json:"version,omitempty"`
}

// Transaction is an executed transaction block
type Transaction struct {
	Digest        string
	Status        string
	Error         string
	ObjectChanges []ObjectChange
}

// Succeeded reports whether the transaction effects report success
func (t *Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

// CreatedObject returns the first created object whose type ends with suffix
func (t *Transaction) CreatedObject(suffix string) (*ObjectChange, bool) {
	for i := range t.ObjectChanges {
		change := &t.ObjectChanges[i]
		if change.Type == ChangeCreated && strings.HasSuffix(change.ObjectType, suffix) {
			return change, true
		}
	}
	return nil, false
}

// Object is the current state of a ledger object
type Object struct {
	Owner   Owner
	ID      string
	Type    string
	Version string
}

// LicenseEvent is a LicenseIssued event emitted for a work object
type LicenseEvent struct {
	Timestamp    time.Time
	WorkObjectID string
	Licensee     string
	TxDigest     string
	Royalty      int
}

// Client is implemented by the Sui JSON-RPC client and the in-process
// simulator
type Client interface {
	// ExecuteMoveCall builds, signs and executes call. A transaction whose
	// effects report failure is returned without error
	ExecuteMoveCall(context.Context, keystore.Signer, MoveCall) (*Transaction, error)
	GetTransaction(ctx context.Context, digest string) (*Transaction, error)
	GetObject(ctx context.Context, objectID string) (*Object, error)
	QueryLicenseEvents(ctx context.Context, packageID, objectID string) ([]LicenseEvent, error)
}

// RegisterWorkArgs are the arguments of work::register_work
type RegisterWorkArgs struct {
	RegistryID string
	// Author receives the created work object
	Author          string
	FileHash        string
	MetaHash        string
	FileRef         string
	MetaRef         string
	CoverRef        string
	AuthorSignature string
	AdminSignature  string
	SellType        uint8
	Royalty         uint8
}

// RegisterWorkCall returns the Move call that registers a work. Digests are
// passed as 0x-prefixed hex and signatures as their encoded string bytes.
// The created object is transferred to Author
func RegisterWorkCall(packageID string, args RegisterWorkArgs) MoveCall {
	return MoveCall{
		Package:  packageID,
		Module:   WorkModule,
		Function: RegisterWorkFunc,
		Args: []any{
			args.RegistryID,
			args.Author,
			"0x" + args.FileHash,
			"0x" + args.MetaHash,
			args.FileRef,
			args.MetaRef,
			args.CoverRef,
			args.AuthorSignature,
			args.AdminSignature,
			args.SellType,
			args.Royalty,
		},
	}
}

// ParseRegisterWorkCall is the inverse of RegisterWorkCall
func ParseRegisterWorkCall(call MoveCall) (RegisterWorkArgs, error) {
	if call.Module != WorkModule || call.Function != RegisterWorkFunc {
		return RegisterWorkArgs{}, fmt.Errorf(
			"unexpected function %s::%s",
			call.Module,
			call.Function,
		)
	}
	if len(call.Args) != 11 {
		return RegisterWorkArgs{}, fmt.Errorf(
			"register_work takes 11 arguments, got %d",
			len(call.Args),
		)
	}
	strs := make([]string, 9)
	for i := range strs {
		s, ok := call.Args[i].(string)
		if !ok {
			return RegisterWorkArgs{}, fmt.Errorf("argument %d is not a string", i)
		}
		strs[i] = s
	}
	sellType, ok1 := call.Args[9].(uint8)
	royalty, ok2 := call.Args[10].(uint8)
	if !ok1 || !ok2 {
		return RegisterWorkArgs{}, errors.New("sell type and royalty must be u8")
	}
	return RegisterWorkArgs{
		RegistryID:      strs[0],
		Author:          strs[1],
		FileHash:        strings.TrimPrefix(strs[2], "0x"),
		MetaHash:        strings.TrimPrefix(strs[3], "0x"),
		FileRef:         strs[4],
		MetaRef:         strs[5],
		CoverRef:        strs[6],
		AuthorSignature: strs[7],
		AdminSignature:  strs[8],
		SellType:        sellType,
		Royalty:         royalty,
	}, nil
}

// AbortCode extracts the Move abort code from a failed execution status
func AbortCode(status string) (uint64, bool) {
	idx := strings.LastIndex(status, "MoveAbort(")
	if idx < 0 {
		return 0, false
	}
	rest := status[idx:]
	end := strings.Index(rest, ") in command")
	if end < 0 {
		end = strings.LastIndex(rest, ")")
	}
	if end < 0 {
		return 0, false
	}
	body := rest[:end]
	comma := strings.LastIndex(body, ",")
	if comma < 0 {
		return 0, false
	}
	var code uint64
	if _, err := fmt.Sscanf(strings.TrimSpace(body[comma+1:]), "%d", &code); err != nil {
		return 0, false
	}
	return code, true
}
