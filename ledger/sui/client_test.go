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

package sui_test

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/ledger/sui"
	"github.com/legiau879778/suimusic-sub000/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     uint64            `json:"id"`
}

// newRPCServer serves JSON-RPC requests with handler, which returns either a
// result or an error message
func newRPCServer(
	t *testing.T,
	handler func(req rpcRequest) (any, string),
) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, errMsg := handler(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if errMsg != "" {
			resp["error"] = map[string]any{"code": -32602, "message": errMsg}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExecuteMoveCall(t *testing.T) {
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	txBytes := []byte("transaction-bytes")
	var methods []string
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		methods = append(methods, req.Method)
		switch req.Method {
		case "unsafe_moveCall":
			var sender, fn string
			if err := json.Unmarshal(req.Params[0], &sender); err != nil {
				return nil, err.Error()
			}
			if err := json.Unmarshal(req.Params[3], &fn); err != nil {
				return nil, err.Error()
			}
			if sender != key.Address() || fn != ledger.RegisterWorkFunc {
				return nil, "unexpected call"
			}
			return map[string]string{
				"txBytes": base64.StdEncoding.EncodeToString(txBytes),
			}, ""
		case "sui_executeTransactionBlock":
			var sigs []string
			if err := json.Unmarshal(req.Params[1], &sigs); err != nil {
				return nil, err.Error()
			}
			parsed, err := signature.Parse(sigs[0])
			if err != nil {
				return nil, err.Error()
			}
			digest := signature.IntentDigest(signature.IntentTransactionData, txBytes)
			if !ed25519.Verify(parsed.PublicKey, digest[:], parsed.Signature) {
				return nil, "bad signature"
			}
			return map[string]any{
				"digest": "Digest1",
				"effects": map[string]any{
					"status": map[string]string{"status": "success"},
				},
				"objectChanges": []map[string]any{
					{
						"type":       "mutated",
						"objectId":   "0xregistry",
						"objectType": "0xpkg::work::Registry",
						"owner":      map[string]any{"Shared": map[string]int{"initial_shared_version": 3}},
					},
					{
						"type":       "created",
						"objectId":   "0xwork",
						"objectType": "0xpkg::work::Work",
						"owner":      map[string]string{"AddressOwner": key.Address()},
					},
				},
			}, ""
		default:
			return nil, "unknown method"
		}
	})

	client := sui.NewClient(server.URL)
	tx, err := client.ExecuteMoveCall(
		context.Background(),
		key,
		ledger.RegisterWorkCall("0xpkg", ledger.RegisterWorkArgs{RegistryID: "0xregistry"}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"unsafe_moveCall", "sui_executeTransactionBlock"}, methods)
	assert.True(t, tx.Succeeded())
	assert.Equal(t, "Digest1", tx.Digest)
	created, ok := tx.CreatedObject(ledger.WorkTypeSuffix)
	require.True(t, ok)
	assert.Equal(t, "0xwork", created.ObjectID)
	require.NotNil(t, created.Owner)
	assert.Equal(t, ledger.OwnerAddress, created.Owner.Kind)
	assert.Equal(t, key.Address(), created.Owner.Address)
}

func TestExecuteMoveCallTimeoutKeepsDigest(t *testing.T) {
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	txBytes := []byte("accepted-transaction-bytes")
	release := make(chan struct{})
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		switch req.Method {
		case "unsafe_moveCall":
			return map[string]string{
				"txBytes": base64.StdEncoding.EncodeToString(txBytes),
			}, ""
		case "sui_executeTransactionBlock":
			// The node has the transaction but answers too late
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return nil, "gone"
		default:
			return nil, "unknown method"
		}
	})
	t.Cleanup(func() { close(release) })

	client := sui.NewClient(
		server.URL,
		sui.WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	_, err = client.ExecuteMoveCall(
		context.Background(),
		key,
		ledger.RegisterWorkCall("0xpkg", ledger.RegisterWorkArgs{RegistryID: "0xregistry"}),
	)
	require.Error(t, err)
	var submitErr *ledger.SubmitError
	require.True(t, errors.As(err, &submitErr))
	assert.Equal(t, ledger.TransactionDigest(txBytes), submitErr.Digest)
}

func TestExecuteMoveCallRejected(t *testing.T) {
	key, err := keystore.GenerateKey()
	require.NoError(t, err)
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		if req.Method == "unsafe_moveCall" {
			return map[string]string{
				"txBytes": base64.StdEncoding.EncodeToString([]byte("tx")),
			}, ""
		}
		return nil, "Invalid user signature"
	})
	client := sui.NewClient(server.URL)
	_, err = client.ExecuteMoveCall(
		context.Background(),
		key,
		ledger.RegisterWorkCall("0xpkg", ledger.RegisterWorkArgs{RegistryID: "0xregistry"}),
	)
	require.Error(t, err)
	var submitErr *ledger.SubmitError
	assert.False(t, errors.As(err, &submitErr))
}

func TestGetTransactionNotFound(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		return nil, "Could not find the referenced transaction [TransactionDigest(abc)]."
	})
	_, err := sui.NewClient(server.URL).GetTransaction(context.Background(), "abc")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	var rpcErr *sui.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestGetTransactionFailedEffects(t *testing.T) {
	status := "MoveAbort(MoveLocation { module: ModuleId { address: 0xpkg, name: Identifier(\"work\") }, function: 1, instruction: 10, function_name: Some(\"register_work\") }, 1) in command 0"
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		return map[string]any{
			"digest": "Digest2",
			"effects": map[string]any{
				"status": map[string]string{"status": "failure", "error": status},
			},
		}, ""
	})
	tx, err := sui.NewClient(server.URL).GetTransaction(context.Background(), "Digest2")
	require.NoError(t, err)
	assert.False(t, tx.Succeeded())
	code, ok := ledger.AbortCode(tx.Error)
	require.True(t, ok)
	assert.Equal(t, uint64(ledger.AbortDuplicateHash), code)
}

func TestGetObject(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		var id string
		if err := json.Unmarshal(req.Params[0], &id); err != nil {
			return nil, err.Error()
		}
		switch id {
		case "0xwork":
			return map[string]any{
				"data": map[string]any{
					"objectId": "0xwork",
					"version":  "7",
					"type":     "0xpkg::work::Work",
					"owner":    map[string]string{"AddressOwner": "0xnew"},
				},
			}, ""
		case "0xfrozen":
			return map[string]any{
				"data": map[string]any{
					"objectId": "0xfrozen",
					"owner":    "Immutable",
				},
			}, ""
		default:
			return map[string]any{
				"error": map[string]string{"code": "notExists", "object_id": id},
			}, ""
		}
	})
	client := sui.NewClient(server.URL)
	obj, err := client.GetObject(context.Background(), "0xwork")
	require.NoError(t, err)
	assert.Equal(t, ledger.Owner{Kind: ledger.OwnerAddress, Address: "0xnew"}, obj.Owner)
	assert.Equal(t, "7", obj.Version)

	obj, err = client.GetObject(context.Background(), "0xfrozen")
	require.NoError(t, err)
	assert.Equal(t, ledger.OwnerImmutable, obj.Owner.Kind)

	_, err = client.GetObject(context.Background(), "0xgone")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestQueryLicenseEventsPaginates(t *testing.T) {
	calls := 0
	server := newRPCServer(t, func(req rpcRequest) (any, string) {
		calls++
		var filter map[string]string
		if err := json.Unmarshal(req.Params[0], &filter); err != nil {
			return nil, err.Error()
		}
		if filter["MoveEventType"] != "0xpkg::work::LicenseIssued" {
			return nil, "unexpected filter"
		}
		event := func(digest, workID string, royalty any) map[string]any {
			return map[string]any{
				"id":          map[string]string{"txDigest": digest, "eventSeq": "0"},
				"timestampMs": "1700000000000",
				"parsedJson": map[string]any{
					"work_id":  workID,
					"licensee": "0xbuyer",
					"royalty":  royalty,
				},
			}
		}
		if string(req.Params[1]) == "null" {
			return map[string]any{
				"data": []any{
					event("tx1", "0xwork", "10"),
					event("tx2", "0xother", "5"),
				},
				"nextCursor":  map[string]string{"txDigest": "tx2", "eventSeq": "0"},
				"hasNextPage": true,
			}, ""
		}
		return map[string]any{
			"data":        []any{event("tx3", "0xWORK", 20)},
			"nextCursor":  nil,
			"hasNextPage": false,
		}, ""
	})
	events, err := sui.NewClient(server.URL).QueryLicenseEvents(
		context.Background(),
		"0xpkg",
		"0xwork",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, events, 2)
	assert.Equal(t, "tx1", events[0].TxDigest)
	assert.Equal(t, 10, events[0].Royalty)
	assert.Equal(t, "tx3", events[1].TxDigest)
	assert.Equal(t, 20, events[1].Royalty)
	assert.Equal(t, int64(1700000000000), events[0].Timestamp.UnixMilli())
}
