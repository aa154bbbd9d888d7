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

package api_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/api"
	"github.com/legiau879778/suimusic-sub000/attestation"
	"github.com/legiau879778/suimusic-sub000/binder"
	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger/memory"
	"github.com/legiau879778/suimusic-sub000/pipeline"
	"github.com/legiau879778/suimusic-sub000/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv    *httptest.Server
	reg    *prometheus.Registry
	author *keystore.Key
}

func newFixture(t *testing.T, cfg api.Config) *fixture {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	bus := event.NewEventBus(nil, nil)
	author, err := keystore.GenerateKey()
	require.NoError(t, err)
	minter, err := keystore.GenerateKey()
	require.NoError(t, err)
	l := memory.New()
	pkg, registry := l.Publish()
	svc := pipeline.New(pipeline.Config{
		DB:       db,
		EventBus: bus,
		Attester: attestation.New(attestation.Config{Mock: true}),
		Binder: binder.New(binder.Config{
			Ledger:     l,
			Signer:     minter,
			PackageID:  pkg,
			RegistryID: registry,
		}),
		Reconciler: reconcile.New(reconcile.Config{DB: db, Ledger: l}),
	})
	reg := prometheus.NewRegistry()
	cfg.PromRegistry = reg
	srv := httptest.NewServer(api.New(cfg, svc).Handler())
	t.Cleanup(func() {
		srv.Close()
		bus.Stop()
		require.NoError(t, db.Close())
	})
	return &fixture{srv: srv, reg: reg, author: author}
}

func (f *fixture) do(
	t *testing.T,
	method string,
	path string,
	body any,
	out any,
) int {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (f *fixture) claim(t *testing.T, content string) api.SubmitProofRequest {
	t.Helper()
	msg := "I wrote " + content
	sig, err := f.author.SignPersonalMessage([]byte(msg))
	require.NoError(t, err)
	return api.SubmitProofRequest{
		AuthorID:        "author-1",
		Wallet:          f.author.Address(),
		FileHash:        sha(content),
		MetaHash:        sha(content + "-meta"),
		Message:         msg,
		AuthorSignature: sig,
		Title:           content,
		SellType:        models.SellTypeLicense,
		Royalty:         5,
		BlobRefs: models.BlobRefs{
			File:     "ipfs://" + content,
			Metadata: "ipfs://" + content + "-meta",
		},
	}
}

func (f *fixture) submit(t *testing.T, content string) api.ProofResponse {
	t.Helper()
	var proof api.ProofResponse
	status := f.do(t, http.MethodPost, "/api/v1/proofs", f.claim(t, content), &proof)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, proof.WorkID)
	return proof
}

func (f *fixture) approve(t *testing.T, workID string, reviewer string) int {
	t.Helper()
	return f.do(
		t,
		http.MethodPost,
		"/api/v1/works/"+workID+"/approve",
		api.ApproveRequest{Reviewer: reviewer},
		nil,
	)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, api.Config{})
	var resp api.HealthResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSubmitAndGetProof(t *testing.T) {
	f := newFixture(t, api.Config{})
	proof := f.submit(t, "song")
	assert.Equal(t, models.ProofStatusTsaAttested, proof.Status)

	var got api.ProofResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/proofs/"+proof.ID, nil, &got))
	assert.Equal(t, proof.ID, got.ID)
	assert.Equal(t, proof.WorkID, got.WorkID)

	var proofs []models.ProofRecord
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/proofs?status=approved", nil, &proofs))
	assert.Empty(t, proofs)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/proofs?status=tsa_attested", nil, &proofs))
	assert.Len(t, proofs, 1)

	var errResp api.ErrorResponse
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/proofs?status=bogus", nil, &errResp))
	assert.Equal(t, api.CodeValidation, errResp.Error)

	count, err := testutil.GatherAndCount(f.reg, "api_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)
}

func TestSubmitProofErrors(t *testing.T) {
	f := newFixture(t, api.Config{})
	badSig := f.claim(t, "bad-sig")
	badSig.Message += " (edited)"
	invalid := f.claim(t, "invalid")
	invalid.FileHash = "xyz"
	invalid.AuthorID = ""
	tests := []struct {
		name   string
		body   any
		status int
		code   string
		fields []string
	}{
		{
			name:   "bad signature",
			body:   badSig,
			status: http.StatusUnauthorized,
			code:   api.CodeSignature,
		},
		{
			name:   "invalid fields",
			body:   invalid,
			status: http.StatusBadRequest,
			code:   api.CodeValidation,
			fields: []string{"authorId", "fileHash"},
		},
		{
			name:   "unknown field",
			body:   `{"authorId":"a","unexpected":true}`,
			status: http.StatusBadRequest,
			code:   api.CodeBadRequest,
		},
		{
			name:   "malformed json",
			body:   `{"authorId":`,
			status: http.StatusBadRequest,
			code:   api.CodeBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var errResp api.ErrorResponse
			status := f.do(t, http.MethodPost, "/api/v1/proofs", tc.body, &errResp)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, errResp.Error)
			if tc.fields != nil {
				assert.ElementsMatch(t, tc.fields, errResp.Fields)
			}
		})
	}
	var errResp api.ErrorResponse
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/proofs/missing", nil, &errResp))
	assert.Equal(t, api.CodeNotFound, errResp.Error)
}

func TestApproveMintReconcile(t *testing.T) {
	f := newFixture(t, api.Config{})
	proof := f.submit(t, "mintable")
	mintPath := "/api/v1/proofs/" + proof.ID + "/mint"

	var errResp api.ErrorResponse
	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, mintPath, nil, &errResp))
	assert.Equal(t, api.CodeNotApproved, errResp.Error)

	require.Equal(t, http.StatusOK, f.approve(t, proof.WorkID, "0xreviewer"))
	require.Equal(t, http.StatusConflict, f.do(
		t,
		http.MethodPost,
		"/api/v1/works/"+proof.WorkID+"/approve",
		api.ApproveRequest{Reviewer: "0xreviewer"},
		&errResp,
	))
	assert.Equal(t, api.CodeAlreadyDecided, errResp.Error)

	var work models.WorkMirror
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, mintPath, nil, &work))
	assert.NotEmpty(t, work.NFTObjectID)
	assert.Equal(t, models.WorkStatusVerified, work.Status)

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, mintPath, nil, &errResp))
	assert.Equal(t, api.CodeAlreadyMinted, errResp.Error)

	var reconciled models.WorkMirror
	require.Equal(t, http.StatusOK, f.do(
		t,
		http.MethodPost,
		"/api/v1/works/"+proof.WorkID+"/reconcile",
		nil,
		&reconciled,
	))
	assert.Equal(t, work.Version, reconciled.Version)

	var stats reconcile.Stats
	require.Equal(t, http.StatusOK, f.do(
		t,
		http.MethodGet,
		"/api/v1/works/"+proof.WorkID+"/licenses/stats",
		nil,
		&stats,
	))
	assert.Equal(t, 0, stats.Count)

	var audit []models.ApprovalAudit
	require.Equal(t, http.StatusOK, f.do(
		t,
		http.MethodGet,
		"/api/v1/works/"+proof.WorkID+"/audit",
		nil,
		&audit,
	))
	assert.Len(t, audit, 1)
}

func TestRejectWork(t *testing.T) {
	f := newFixture(t, api.Config{})
	proof := f.submit(t, "rejectable")
	path := "/api/v1/works/" + proof.WorkID + "/reject"

	var errResp api.ErrorResponse
	require.Equal(t, http.StatusBadRequest, f.do(
		t,
		http.MethodPost,
		path,
		api.RejectRequest{Reviewer: "0xreviewer", Reason: "  "},
		&errResp,
	))
	assert.Equal(t, api.CodeValidation, errResp.Error)

	var work models.WorkMirror
	require.Equal(t, http.StatusOK, f.do(
		t,
		http.MethodPost,
		path,
		api.RejectRequest{Reviewer: "0xreviewer", Reason: "not original"},
		&work,
	))
	assert.Equal(t, models.WorkStatusRejected, work.Status)

	assert.Equal(t, http.StatusConflict, f.approve(t, proof.WorkID, "0xother"))
}

func TestBlobs(t *testing.T) {
	f := newFixture(t, api.Config{MaxBlobBytes: 16})
	var blob api.BlobResponse
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/blobs", "audio bytes", &blob))
	assert.Equal(t, "sha256-"+sha("audio bytes"), blob.Ref)

	resp, err := f.srv.Client().Get(f.srv.URL + "/api/v1/blobs/" + blob.Ref)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio bytes", string(data))

	var errResp api.ErrorResponse
	require.Equal(t, http.StatusNotFound, f.do(
		t,
		http.MethodGet,
		"/api/v1/blobs/sha256-"+sha("missing"),
		nil,
		&errResp,
	))
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/blobs/not-a-ref", nil, &errResp))
	assert.Equal(t, api.CodeValidation, errResp.Error)
	require.Equal(t, http.StatusRequestEntityTooLarge, f.do(
		t,
		http.MethodPost,
		"/api/v1/blobs",
		"this body is longer than sixteen bytes",
		&errResp,
	))
	assert.Equal(t, api.CodeTooLarge, errResp.Error)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, api.Config{RateLimit: 0.001, RateBurst: 2})
	var errResp api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/works/a", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/works/b", nil, &errResp))
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/api/v1/works/c", nil, &errResp))
	assert.Equal(t, api.CodeRateLimited, errResp.Error)
	// Liveness is not limited
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, nil))
}

func TestErrorResponseMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
		digest string
	}{
		{&binder.ObjectIDNotFoundError{Digest: "D1"}, http.StatusBadGateway, api.CodeObjectIDNotFound, "D1"},
		{&binder.TransactionFailedError{Digest: "D2", Message: "boom"}, http.StatusBadGateway, api.CodeTransactionFailed, "D2"},
		{fmt.Errorf("mint: %w", binder.ErrDuplicateHash), http.StatusConflict, api.CodeDuplicateHash, ""},
		{binder.ErrConfigMissing, http.StatusServiceUnavailable, api.CodeConfigMissing, ""},
		{pipeline.ErrMintInProgress, http.StatusConflict, api.CodeMintInProgress, ""},
		{errors.New("disk on fire"), http.StatusInternalServerError, api.CodeInternal, ""},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			status, resp := api.ErrorResponseFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, resp.Error)
			assert.Equal(t, tc.digest, resp.TxDigest)
		})
	}
}

func TestStartStop(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	defer db.Close()
	srv := api.New(
		api.Config{ListenAddress: "127.0.0.1:0", MaxConnections: 4},
		pipeline.New(pipeline.Config{DB: db}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.Error(t, srv.Start(ctx))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}
