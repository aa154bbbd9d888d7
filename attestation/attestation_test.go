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

package attestation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/attestation"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testRequest() attestation.Request {
	return attestation.Request{
		FileHash:  strings.Repeat("ab", 32),
		MetaHash:  strings.Repeat("cd", 32),
		BlobRefs:  models.BlobRefs{File: "sha256-f", Metadata: "sha256-m"},
		Timestamp: fixedNow,
	}
}

func TestMockAttestationIsDeterministic(t *testing.T) {
	c := attestation.New(attestation.Config{
		Mock: true,
		Now:  func() time.Time { return fixedNow },
	})
	a := c.RequestAttestation(context.Background(), testRequest())
	require.NotNil(t, a)
	assert.True(t, a.Mock)
	assert.Equal(t, attestation.MockSignature, a.Signature)
	assert.True(t, strings.HasPrefix(a.ID, "mock-"))
	assert.Len(t, a.ID, len("mock-")+32)
	assert.Equal(t, fixedNow, a.Time)

	b := c.RequestAttestation(context.Background(), testRequest())
	require.NotNil(t, b)
	assert.Equal(t, a.ID, b.ID)

	other := testRequest()
	other.MetaHash = strings.Repeat("ef", 32)
	o := c.RequestAttestation(context.Background(), other)
	require.NotNil(t, o)
	assert.NotEqual(t, a.ID, o.ID)
}

func TestDisabledReturnsNil(t *testing.T) {
	c := attestation.New(attestation.Config{})
	assert.False(t, c.Enabled())
	assert.Nil(t, c.RequestAttestation(context.Background(), testRequest()))
}

func TestRemoteAttestation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, strings.Repeat("ab", 32), body["fileHash"])
		assert.NotEmpty(t, body["claim"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tsa-1","signature":"c2ln","time":"2025-03-01T12:00:05Z"}`))
	}))
	defer srv.Close()
	reg := prometheus.NewRegistry()
	c := attestation.New(attestation.Config{
		URL:          srv.URL,
		APIKey:       "secret",
		Mock:         true,
		PromRegistry: reg,
	})
	a := c.RequestAttestation(context.Background(), testRequest())
	require.NotNil(t, a)
	assert.Equal(t, "tsa-1", a.ID)
	assert.False(t, a.Mock)
	assert.Equal(t, fixedNow.Add(5*time.Second), a.Time)
	assert.Equal(t, int32(1), calls.Load())
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRemoteFailuresReturnNil(t *testing.T) {
	testDefs := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "down", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":`))
			},
		},
		{
			name: "missing signature",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"tsa-1"}`))
			},
		},
		{
			name: "bad time",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"tsa-1","signature":"s","time":"yesterday"}`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			srv := httptest.NewServer(testDef.handler)
			defer srv.Close()
			// Mock fallback only applies without a configured endpoint
			c := attestation.New(attestation.Config{
				URL:     srv.URL,
				Mock:    true,
				Timeout: 100 * time.Millisecond,
			})
			assert.Nil(t, c.RequestAttestation(context.Background(), testRequest()))
		})
	}
}
