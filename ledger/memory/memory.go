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

// Package memory is an in-process ledger that enforces the work registry
// rules. It backs dev mode and tests
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/signature"
)

type object struct {
	owner   ledger.Owner
	typ     string
	version uint64
}

type registry struct {
	packageID  string
	fileHashes map[string]string
	metaHashes map[string]string
}

type transaction struct {
	tx *ledger.Transaction
	// hiddenReads is the number of reads that still omit object changes
	hiddenReads int
}

type licenseEvent struct {
	packageID string
	event     ledger.LicenseEvent
}

// Ledger is safe for concurrent use
type Ledger struct {
	now          func() time.Time
	packages     map[string]bool
	objects      map[string]*object
	registries   map[string]*registry
	transactions map[string]*transaction
	readErr      error
	events       []licenseEvent
	indexLag     int
	mu           sync.Mutex
}

var _ ledger.Client = (*Ledger)(nil)

type Option func(*Ledger)

// WithIndexingLag makes executed transactions report their object changes
// only after n reads by digest
func WithIndexingLag(n int) Option {
	return func(l *Ledger) {
		l.indexLag = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:          time.Now,
		packages:     make(map[string]bool),
		objects:      make(map[string]*object),
		registries:   make(map[string]*registry),
		transactions: make(map[string]*transaction),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newObjectID() string {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	return "0x" + hex.EncodeToString(buf[:])
}

func newDigest() string {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	return base58.Encode(buf[:])
}

// Publish deploys the work package and its shared registry
func (l *Ledger) Publish() (packageID string, registryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	packageID = newObjectID()
	registryID = newObjectID()
	l.packages[packageID] = true
	l.objects[registryID] = &object{
		owner:   ledger.Owner{Kind: ledger.OwnerShared},
		typ:     packageID + "::work::Registry",
		version: 1,
	}
	l.registries[registryID] = &registry{
		packageID:  packageID,
		fileHashes: make(map[string]string),
		metaHashes: make(map[string]string),
	}
	return packageID, registryID
}

// SetReadError makes object and event reads fail with err until cleared
// with nil
func (l *Ledger) SetReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// Transfer moves a work object to a new address owner
func (l *Ledger) Transfer(objectID string, newOwner string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.objects[objectID]
	if !ok {
		return "", fmt.Errorf("object %s: %w", objectID, ledger.ErrNotFound)
	}
	obj.owner = ledger.Owner{
		Kind:    ledger.OwnerAddress,
		Address: signature.NormalizeAddress(newOwner),
	}
	obj.version++
	owner := obj.owner
	digest := newDigest()
	l.transactions[digest] = &transaction{
		tx: &ledger.Transaction{
			Digest: digest,
			Status: ledger.StatusSuccess,
			ObjectChanges: []ledger.ObjectChange{
				{
					Type:       "mutated",
					ObjectID:   objectID,
					ObjectType: obj.typ,
					Owner:      &owner,
				},
			},
		},
	}
	return digest, nil
}

// IssueLicense records a license grant for a work object and returns the
// digest of the granting transaction
func (l *Ledger) IssueLicense(
	objectID string,
	licensee string,
	royalty int,
) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.objects[objectID]
	if !ok {
		return "", fmt.Errorf("object %s: %w", objectID, ledger.ErrNotFound)
	}
	packageID, found := l.packageOf(obj.typ)
	if !found {
		return "", fmt.Errorf("object %s is not a work", objectID)
	}
	digest := newDigest()
	l.transactions[digest] = &transaction{
		tx: &ledger.Transaction{Digest: digest, Status: ledger.StatusSuccess},
	}
	l.events = append(l.events, licenseEvent{
		packageID: packageID,
		event: ledger.LicenseEvent{
			Timestamp:    l.now().UTC(),
			WorkObjectID: objectID,
			Licensee:     licensee,
			TxDigest:     digest,
			Royalty:      royalty,
		},
	})
	return digest, nil
}

func (l *Ledger) packageOf(objectType string) (string, bool) {
	for pkg := range l.packages {
		if objectType == pkg+ledger.WorkTypeSuffix {
			return pkg, true
		}
	}
	return "", false
}

// ExecuteMoveCall implements ledger.Client. Only work::register_work is
// supported
func (l *Ledger) ExecuteMoveCall(
	ctx context.Context,
	signer keystore.Signer,
	call ledger.MoveCall,
) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.New("no signer")
	}
	txBytes, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	if _, err := signer.SignTransaction(txBytes); err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.packages[call.Package] {
		return nil, fmt.Errorf(
			"package object does not exist with ID %s: %w",
			call.Package,
			ledger.ErrNotFound,
		)
	}
	args, err := ledger.ParseRegisterWorkCall(call)
	if err != nil {
		return nil, err
	}
	reg, ok := l.registries[args.RegistryID]
	if !ok || reg.packageID != call.Package {
		return nil, fmt.Errorf(
			"registry object %s not found: %w",
			args.RegistryID,
			ledger.ErrNotFound,
		)
	}
	digest := newDigest()
	tx := &ledger.Transaction{Digest: digest, Status: ledger.StatusSuccess}
	_, dupFile := reg.fileHashes[args.FileHash]
	_, dupMeta := reg.metaHashes[args.MetaHash]
	if dupFile || dupMeta {
		tx.Status = ledger.StatusFailure
		tx.Error = fmt.Sprintf(
			"MoveAbort(MoveLocation { module: ModuleId { address: %s, name: Identifier(\"work\") }, function: 0, instruction: 0, function_name: Some(\"register_work\") }, %d) in command 0",
			call.Package,
			ledger.AbortDuplicateHash,
		)
		l.transactions[digest] = &transaction{tx: tx}
		return cloneTx(tx, false), nil
	}
	recipient := args.Author
	if recipient == "" {
		recipient = signer.Address()
	}
	objectID := newObjectID()
	obj := &object{
		owner: ledger.Owner{
			Kind:    ledger.OwnerAddress,
			Address: signature.NormalizeAddress(recipient),
		},
		typ:     call.Package + ledger.WorkTypeSuffix,
		version: 1,
	}
	l.objects[objectID] = obj
	reg.fileHashes[args.FileHash] = objectID
	reg.metaHashes[args.MetaHash] = objectID
	owner := obj.owner
	tx.ObjectChanges = []ledger.ObjectChange{
		{
			Type:       "mutated",
			ObjectID:   args.RegistryID,
			ObjectType: call.Package + "::work::Registry",
			Owner:      &ledger.Owner{Kind: ledger.OwnerShared},
		},
		{
			Type:       ledger.ChangeCreated,
			ObjectID:   objectID,
			ObjectType: obj.typ,
			Owner:      &owner,
		},
	}
	l.transactions[digest] = &transaction{tx: tx, hiddenReads: l.indexLag}
	return cloneTx(tx, l.indexLag > 0), nil
}

// GetTransaction implements ledger.Client
func (l *Ledger) GetTransaction(
	ctx context.Context,
	digest string,
) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.transactions[digest]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", digest, ledger.ErrNotFound)
	}
	hide := stored.hiddenReads > 0
	if hide {
		stored.hiddenReads--
	}
	return cloneTx(stored.tx, hide), nil
}

// GetObject implements ledger.Client
func (l *Ledger) GetObject(
	ctx context.Context,
	objectID string,
) (*ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	obj, ok := l.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectID, ledger.ErrNotFound)
	}
	return &ledger.Object{
		ID:      objectID,
		Type:    obj.typ,
		Owner:   obj.owner,
		Version: fmt.Sprint(obj.version),
	}, nil
}

// QueryLicenseEvents implements ledger.Client
func (l *Ledger) QueryLicenseEvents(
	ctx context.Context,
	packageID string,
	objectID string,
) ([]ledger.LicenseEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	var ret []ledger.LicenseEvent
	for _, evt := range l.events {
		if evt.packageID == packageID && evt.event.WorkObjectID == objectID {
			ret = append(ret, evt.event)
		}
	}
	return ret, nil
}

func cloneTx(tx *ledger.Transaction, hideChanges bool) *ledger.Transaction {
	ret := *tx
	if hideChanges {
		ret.ObjectChanges = nil
	} else {
		ret.ObjectChanges = append([]ledger.ObjectChange(nil), tx.ObjectChanges...)
	}
	return &ret
}
