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

package binder_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/binder"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/ledger/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedProof(fileHash string) (*models.ProofRecord, *models.WorkMirror) {
	proof := &models.ProofRecord{
		ID:              "proof-1",
		Status:          models.ProofStatusApproved,
		Wallet:          "0x" + strings.Repeat("1", 64),
		FileHash:        fileHash,
		MetaHash:        strings.Repeat("cd", 32),
		AuthorSignature: "author-sig",
		BlobRefs:        models.BlobRefs{File: "sha256-file", Metadata: "sha256-meta"},
		Approval:        &models.Approval{AdminWallet: "0x1", Signature: "admin-sig"},
	}
	work := &models.WorkMirror{
		ID:       "work-1",
		ProofID:  proof.ID,
		SellType: models.SellTypeLicense,
		Royalty:  10,
	}
	return proof, work
}

func newBinder(
	t *testing.T,
	client ledger.Client,
	pkg string,
	registry string,
	retries int,
) (*binder.Binder, *keystore.Key) {
	t.Helper()
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	return binder.New(binder.Config{
		PromRegistry:   prometheus.NewRegistry(),
		Ledger:         client,
		Signer:         key,
		PackageID:      pkg,
		RegistryID:     registry,
		MaxReadRetries: retries,
		ReadRetryDelay: time.Millisecond,
		Timeout:        5 * time.Second,
	}), key
}

func TestMint(t *testing.T) {
	l := memory.New()
	pkg, registry := l.Publish()
	b, _ := newBinder(t, l, pkg, registry, 0)
	proof, work := approvedProof(strings.Repeat("ab", 32))

	res, err := b.Mint(context.Background(), proof, work)
	require.NoError(t, err)
	assert.NotEmpty(t, res.NFTObjectID)
	assert.NotEmpty(t, res.TxDigest)
	assert.Equal(t, pkg, res.PackageID)
	assert.Equal(t, proof.Wallet, res.Owner)
	assert.Equal(t, models.OwnerKindAddress, res.OwnerKind)

	obj, err := l.GetObject(context.Background(), res.NFTObjectID)
	require.NoError(t, err)
	assert.Equal(t, pkg+ledger.WorkTypeSuffix, obj.Type)

	_, err = b.Mint(context.Background(), proof, work)
	require.ErrorIs(t, err, binder.ErrDuplicateHash)
}

func TestMintPreconditions(t *testing.T) {
	l := memory.New()
	pkg, registry := l.Publish()
	proof, work := approvedProof(strings.Repeat("ab", 32))

	b, _ := newBinder(t, l, pkg, registry, 0)
	pending := *proof
	pending.Status = models.ProofStatusTsaAttested
	_, err := b.Mint(context.Background(), &pending, work)
	require.ErrorIs(t, err, binder.ErrNotApproved)

	testDefs := []struct {
		name     string
		pkg      string
		registry string
	}{
		{name: "no package", registry: registry},
		{name: "no registry", pkg: pkg},
		{name: "unknown package", pkg: "0xmissing", registry: registry},
		{name: "unknown registry", pkg: pkg, registry: "0xmissing"},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			b, _ := newBinder(t, l, testDef.pkg, testDef.registry, 0)
			_, err := b.Mint(context.Background(), proof, work)
			require.ErrorIs(t, err, binder.ErrConfigMissing)
		})
	}
}

func TestMintRereadsTransaction(t *testing.T) {
	l := memory.New(memory.WithIndexingLag(2))
	pkg, registry := l.Publish()
	b, _ := newBinder(t, l, pkg, registry, 5)
	proof, work := approvedProof(strings.Repeat("ab", 32))

	res, err := b.Mint(context.Background(), proof, work)
	require.NoError(t, err)
	assert.NotEmpty(t, res.NFTObjectID)
}

func TestMintObjectNotFoundThenResume(t *testing.T) {
	l := memory.New(memory.WithIndexingLag(3))
	pkg, registry := l.Publish()
	b, _ := newBinder(t, l, pkg, registry, 2)
	proof, work := approvedProof(strings.Repeat("ab", 32))

	_, err := b.Mint(context.Background(), proof, work)
	require.ErrorIs(t, err, binder.ErrObjectIDNotFound)
	var notFound *binder.ObjectIDNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.NotEmpty(t, notFound.Digest)

	res, err := b.Resume(context.Background(), notFound.Digest)
	require.NoError(t, err)
	assert.Equal(t, notFound.Digest, res.TxDigest)
	assert.NotEmpty(t, res.NFTObjectID)

	// A digest the ledger never saw can be minted again
	_, err = b.Resume(context.Background(), "unknown-digest")
	require.ErrorIs(t, err, binder.ErrTransactionFailed)
	require.NotErrorIs(t, err, binder.ErrObjectIDNotFound)
}

// fakeLedger returns canned results from ExecuteMoveCall
type fakeLedger struct {
	ledger.Client
	execute func(ctx context.Context) (*ledger.Transaction, error)
}

func (f *fakeLedger) ExecuteMoveCall(
	ctx context.Context,
	_ keystore.Signer,
	_ ledger.MoveCall,
) (*ledger.Transaction, error) {
	return f.execute(ctx)
}

func TestMintTransactionFailed(t *testing.T) {
	proof, work := approvedProof(strings.Repeat("ab", 32))
	testDefs := []struct {
		name    string
		tx      *ledger.Transaction
		err     error
		wantErr error
		wantMsg string
	}{
		{
			name:    "failed effects",
			tx:      &ledger.Transaction{Digest: "d1", Status: ledger.StatusFailure, Error: "InsufficientGas"},
			wantErr: binder.ErrTransactionFailed,
			wantMsg: "InsufficientGas",
		},
		{
			name:    "duplicate message",
			tx:      &ledger.Transaction{Digest: "d2", Status: ledger.StatusFailure, Error: "EDuplicateHash"},
			wantErr: binder.ErrDuplicateHash,
		},
		{
			name:    "rpc failure",
			err:     errors.New("connection reset"),
			wantErr: binder.ErrTransactionFailed,
			wantMsg: "connection reset",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			client := &fakeLedger{
				execute: func(context.Context) (*ledger.Transaction, error) {
					return testDef.tx, testDef.err
				},
			}
			b, _ := newBinder(t, client, "0xpkg", "0xreg", 1)
			_, err := b.Mint(context.Background(), proof, work)
			require.ErrorIs(t, err, testDef.wantErr)
			if testDef.wantMsg != "" {
				var txErr *binder.TransactionFailedError
				require.ErrorAs(t, err, &txErr)
				assert.Equal(t, testDef.wantMsg, txErr.Message)
			}
		})
	}
}

func TestMintUnknownOutcomeKeepsDigest(t *testing.T) {
	proof, work := approvedProof(strings.Repeat("ab", 32))
	client := &fakeLedger{
		execute: func(context.Context) (*ledger.Transaction, error) {
			return nil, &ledger.SubmitError{
				Digest: "d-timeout",
				Err:    context.DeadlineExceeded,
			}
		},
	}
	b, _ := newBinder(t, client, "0xpkg", "0xreg", 1)
	_, err := b.Mint(context.Background(), proof, work)
	require.ErrorIs(t, err, binder.ErrObjectIDNotFound)
	require.NotErrorIs(t, err, binder.ErrTransactionFailed)
	var notFound *binder.ObjectIDNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "d-timeout", notFound.Digest)
}

func TestMintDetachesSubmission(t *testing.T) {
	proof, work := approvedProof(strings.Repeat("ab", 32))
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeLedger{
		execute: func(sendCtx context.Context) (*ledger.Transaction, error) {
			cancel()
			if err := sendCtx.Err(); err != nil {
				return nil, err
			}
			return &ledger.Transaction{
				Digest: "d1",
				Status: ledger.StatusSuccess,
				ObjectChanges: []ledger.ObjectChange{
					{
						Type:       ledger.ChangeCreated,
						ObjectID:   "0xwork",
						ObjectType: "0xpkg" + ledger.WorkTypeSuffix,
					},
				},
			}, nil
		},
	}
	b, _ := newBinder(t, client, "0xpkg", "0xreg", 1)
	res, err := b.Mint(ctx, proof, work)
	require.NoError(t, err)
	assert.Equal(t, "0xwork", res.NFTObjectID)

	_, err = b.Mint(ctx, proof, work)
	require.ErrorIs(t, err, context.Canceled)
}
