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

// Package sui is a Sui JSON-RPC ledger client
package sui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/legiau879778/suimusic-sub000/ledger"
	"github.com/legiau879778/suimusic-sub000/signature"
)

const (
	DefaultGasBudget     = 50_000_000
	DefaultTimeout       = 30 * time.Second
	DefaultEventPageSize = 50
	// maxEventPages bounds a single license event scan
	maxEventPages = 20
)

// RPCError is a JSON-RPC error response
type RPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("sui rpc error %d: %s", e.Code, e.Message)
}

// Is reports not-found conditions as ledger.ErrNotFound
func (e *RPCError) Is(target error) bool {
	if target != ledger.ErrNotFound {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "could not find") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "notexists")
}

// Client talks to a Sui full node
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	url        string
	gasBudget  uint64
	nextID     atomic.Uint64
}

var _ ledger.Client = (*Client)(nil)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithGasBudget(budget uint64) ClientOption {
	return func(c *Client) {
		if budget > 0 {
			c.gasBudget = budget
		}
	}
}

// NewClient creates a JSON-RPC client for the node at rpcURL
func NewClient(rpcURL string, opts ...ClientOption) *Client {
	c := &Client{
		url:       rpcURL,
		gasBudget: DefaultGasBudget,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "ledger")
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Error  *RPCError       `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) call(
	ctx context.Context,
	method string,
	params []any,
	result any,
) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.url,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	c.logger.Debug(
		"rpc call",
		"method", method,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf(
			"%s: unexpected status %d: %s",
			method,
			resp.StatusCode,
			strings.TrimSpace(string(snippet)),
		)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}

type transactionResponse struct {
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
	Digest        string                `json:"digest"`
	ObjectChanges []ledger.ObjectChange `json:"objectChanges"`
}

func (r *transactionResponse) toTransaction() *ledger.Transaction {
	tx := &ledger.Transaction{
		Digest:        r.Digest,
		ObjectChanges: r.ObjectChanges,
	}
	if r.Effects != nil {
		tx.Status = r.Effects.Status.Status
		tx.Error = r.Effects.Status.Error
	}
	return tx
}

var responseOptions = map[string]bool{
	"showEffects":       true,
	"showObjectChanges": true,
}

// ExecuteMoveCall implements ledger.Client
func (c *Client) ExecuteMoveCall(
	ctx context.Context,
	signer keystore.Signer,
	call ledger.MoveCall,
) (*ledger.Transaction, error) {
	typeArgs := call.TypeArgs
	if typeArgs == nil {
		typeArgs = []string{}
	}
	var built struct {
		TxBytes string `json:"txBytes"`
	}
	err := c.call(
		ctx,
		"unsafe_moveCall",
		[]any{
			signer.Address(),
			call.Package,
			call.Module,
			call.Function,
			typeArgs,
			call.Args,
			nil,
			strconv.FormatUint(c.gasBudget, 10),
		},
		&built,
	)
	if err != nil {
		return nil, fmt.Errorf("building transaction: %w", err)
	}
	txBytes, err := base64.StdEncoding.DecodeString(built.TxBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding transaction bytes: %w", err)
	}
	sig, err := signer.SignTransaction(txBytes)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	var resp transactionResponse
	err = c.call(
		ctx,
		"sui_executeTransactionBlock",
		[]any{
			built.TxBytes,
			[]string{sig},
			responseOptions,
			"WaitForLocalExecution",
		},
		&resp,
	)
	if err != nil {
		err = fmt.Errorf("executing transaction: %w", err)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		// The node may have executed the transaction before the call failed
		digest := ledger.TransactionDigest(txBytes)
		c.logger.Warn(
			"transaction outcome unknown",
			"digest", digest,
			"function", call.Module+"::"+call.Function,
			"error", err,
		)
		return nil, &ledger.SubmitError{Digest: digest, Err: err}
	}
	tx := resp.toTransaction()
	c.logger.Info(
		"transaction executed",
		"digest", tx.Digest,
		"function", call.Module+"::"+call.Function,
		"status", tx.Status,
	)
	return tx, nil
}

// GetTransaction implements ledger.Client
func (c *Client) GetTransaction(
	ctx context.Context,
	digest string,
) (*ledger.Transaction, error) {
	var resp transactionResponse
	err := c.call(
		ctx,
		"sui_getTransactionBlock",
		[]any{digest, responseOptions},
		&resp,
	)
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", digest, err)
	}
	return resp.toTransaction(), nil
}

type objectResponse struct {
	Data *struct {
		Owner    *ledger.Owner `json:"owner"`
		ObjectID string        `json:"objectId"`
		Type     string        `json:"type"`
		Version  string        `json:"version"`
	} `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		ObjectID string `json:"object_id"`
	} `json:"error"`
}

// GetObject implements ledger.Client
func (c *Client) GetObject(
	ctx context.Context,
	objectID string,
) (*ledger.Object, error) {
	var resp objectResponse
	err := c.call(
		ctx,
		"sui_getObject",
		[]any{
			objectID,
			map[string]bool{"showOwner": true, "showType": true},
		},
		&resp,
	)
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", objectID, err)
	}
	if resp.Error != nil {
		if resp.Error.Code == "notExists" || resp.Error.Code == "deleted" {
			return nil, fmt.Errorf("object %s: %w", objectID, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("object %s: %s", objectID, resp.Error.Code)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("object %s: %w", objectID, ledger.ErrNotFound)
	}
	if resp.Data.Owner == nil {
		return nil, fmt.Errorf("object %s: owner not returned", objectID)
	}
	return &ledger.Object{
		ID:      resp.Data.ObjectID,
		Type:    resp.Data.Type,
		Version: resp.Data.Version,
		Owner:   *resp.Data.Owner,
	}, nil
}

type eventPage struct {
	NextCursor json.RawMessage `json:"nextCursor"`
	Data       []struct {
		ID struct {
			TxDigest string `json:"txDigest"`
			EventSeq string `json:"eventSeq"`
		} `json:"id"`
		ParsedJSON  json.RawMessage `json:"parsedJson"`
		TimestampMs string          `json:"timestampMs"`
	} `json:"data"`
	HasNextPage bool `json:"hasNextPage"`
}

type licenseIssued struct {
	WorkID   string          `json:"work_id"`
	Licensee string          `json:"licensee"`
	Royalty  json.RawMessage `json:"royalty"`
}

// QueryLicenseEvents implements ledger.Client
func (c *Client) QueryLicenseEvents(
	ctx context.Context,
	packageID string,
	objectID string,
) ([]ledger.LicenseEvent, error) {
	filter := map[string]string{
		"MoveEventType": packageID + ledger.LicenseIssuedSuffix,
	}
	var cursor any
	var ret []ledger.LicenseEvent
	for range maxEventPages {
		var page eventPage
		err := c.call(
			ctx,
			"suix_queryEvents",
			[]any{filter, cursor, DefaultEventPageSize, false},
			&page,
		)
		if err != nil {
			return nil, fmt.Errorf("querying license events: %w", err)
		}
		for _, evt := range page.Data {
			var parsed licenseIssued
			if err := json.Unmarshal(evt.ParsedJSON, &parsed); err != nil {
				c.logger.Warn(
					"skipping malformed license event",
					"tx_digest", evt.ID.TxDigest,
					"err", err,
				)
				continue
			}
			if !signature.SameAddress(parsed.WorkID, objectID) {
				continue
			}
			royalty, err := parseU64(parsed.Royalty)
			if err != nil {
				c.logger.Warn(
					"skipping license event with bad royalty",
					"tx_digest", evt.ID.TxDigest,
					"err", err,
				)
				continue
			}
			licenseEvt := ledger.LicenseEvent{
				WorkObjectID: objectID,
				Licensee:     parsed.Licensee,
				TxDigest:     evt.ID.TxDigest,
				Royalty:      int(royalty), //nolint:gosec
			}
			if ms, err := strconv.ParseInt(evt.TimestampMs, 10, 64); err == nil {
				licenseEvt.Timestamp = time.UnixMilli(ms).UTC()
			}
			ret = append(ret, licenseEvt)
		}
		if !page.HasNextPage || len(page.NextCursor) == 0 ||
			string(page.NextCursor) == "null" {
			return ret, nil
		}
		cursor = page.NextCursor
	}
	c.logger.Warn(
		"license event scan truncated",
		"object_id", objectID,
		"pages", maxEventPages,
	)
	return ret, nil
}

// parseU64 accepts numbers encoded either as JSON numbers or strings
func parseU64(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing value")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseUint(s, 10, 64)
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}
