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

// Package attestation requests third-party timestamp attestations for
// claims. Attestation is advisory: every failure is reported as a nil
// result and never as an error
package attestation

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultTimeout = 10 * time.Second
	MockSignature  = "MOCK_SIGNATURE"
	mockIDPrefix   = "mock-"
	// Valid responses are tiny
	maxResponseSize = 1 << 16
)

var (
	errBadStatus   = errors.New("unexpected status")
	errBadResponse = errors.New("malformed attestation response")
)

// Request describes the claim being attested
type Request struct {
	Timestamp time.Time
	BlobRefs  models.BlobRefs
	FileHash  string
	MetaHash  string
}

// claimCbor is the canonical encoding of a request
type claimCbor struct {
	cbor.StructAsArray
	FileHash  string
	MetaHash  string
	FileRef   string
	MetaRef   string
	CoverRef  string
	Timestamp int64
}

// CanonicalBytes returns the deterministic CBOR encoding of the request
func (r *Request) CanonicalBytes() ([]byte, error) {
	return cbor.Encode(&claimCbor{
		FileHash:  r.FileHash,
		MetaHash:  r.MetaHash,
		FileRef:   r.BlobRefs.File,
		MetaRef:   r.BlobRefs.Metadata,
		CoverRef:  r.BlobRefs.Cover,
		Timestamp: r.Timestamp.UTC().UnixMilli(),
	})
}

// Attester is implemented by Client
type Attester interface {
	RequestAttestation(ctx context.Context, req Request) *models.Attestation
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	HTTPClient   *http.Client
	// URL of the timestamping authority. Empty disables remote attestation
	URL     string
	APIKey  string
	Timeout time.Duration
	// Mock synthesizes a marked attestation when no URL is configured
	Mock bool
	// Now overrides the clock
	Now func() time.Time
}

type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *attestationMetrics
}

type attestationMetrics struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Client{
		config: cfg,
		logger: cfg.Logger.With("component", "attestation"),
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		c.metrics = &attestationMetrics{
			requests: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "attestation_requests_total",
					Help: "attestation requests by result",
				},
				[]string{"result"},
			),
			latency: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "attestation_request_duration_seconds",
					Help:    "duration of remote attestation requests",
					Buckets: prometheus.DefBuckets,
				},
			),
		}
	}
	return c
}

// Enabled returns true when attestation can produce a result
func (c *Client) Enabled() bool {
	return c.config.URL != "" || c.config.Mock
}

// RequestAttestation returns an attestation for the claim or nil
func (c *Client) RequestAttestation(
	ctx context.Context,
	req Request,
) *models.Attestation {
	if c.config.URL == "" {
		if !c.config.Mock {
			c.observe("disabled")
			return nil
		}
		att, err := c.mock(req)
		if err != nil {
			c.logger.Warn("failed to build mock attestation", "error", err)
			c.observe("error")
			return nil
		}
		c.observe("mock")
		return att
	}
	start := time.Now()
	att, err := c.remote(ctx, req)
	if c.metrics != nil {
		c.metrics.latency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Warn(
			"attestation request failed",
			"error", err,
			"file_hash", req.FileHash,
		)
		c.observe("error")
		return nil
	}
	c.logger.Debug("attestation received", "id", att.ID)
	c.observe("ok")
	return att
}

func (c *Client) observe(result string) {
	if c.metrics != nil {
		c.metrics.requests.WithLabelValues(result).Inc()
	}
}

// mock derives the id from the canonical claim so repeated requests for
// the same claim produce the same id
func (c *Client) mock(req Request) (*models.Attestation, error) {
	data, err := req.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(data)
	return &models.Attestation{
		ID:        mockIDPrefix + hex.EncodeToString(sum[:])[:32],
		Signature: MockSignature,
		Time:      c.config.Now().UTC(),
		Mock:      true,
	}, nil
}

type remoteRequest struct {
	Timestamp time.Time       `json:"timestamp"`
	BlobRefs  models.BlobRefs `json:"blobRefs"`
	FileHash  string          `json:"fileHash"`
	MetaHash  string          `json:"metaHash"`
	Claim     string          `json:"claim"`
}

type remoteResponse struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
	Time      string `json:"time"`
}

func (c *Client) remote(
	ctx context.Context,
	req Request,
) (*models.Attestation, error) {
	claim, err := req.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(remoteRequest{
		Timestamp: req.Timestamp.UTC(),
		BlobRefs:  req.BlobRefs,
		FileHash:  req.FileHash,
		MetaHash:  req.MetaHash,
		Claim:     hex.EncodeToString(claim),
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	resp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain for connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: %s", errBadStatus, resp.Status)
	}
	var parsed remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadResponse, err)
	}
	if strings.TrimSpace(parsed.ID) == "" || strings.TrimSpace(parsed.Signature) == "" {
		return nil, fmt.Errorf("%w: missing id or signature", errBadResponse)
	}
	attTime := c.config.Now().UTC()
	if parsed.Time != "" {
		t, err := time.Parse(time.RFC3339Nano, parsed.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: bad time: %w", errBadResponse, err)
		}
		attTime = t.UTC()
	}
	return &models.Attestation{
		ID:        parsed.ID,
		Signature: parsed.Signature,
		Time:      attTime,
	}, nil
}
