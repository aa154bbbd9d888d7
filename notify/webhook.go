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

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DeliveryHeader  = "X-Suimusic-Delivery"
	EventHeader     = "X-Suimusic-Event"
	SignatureHeader = "X-Suimusic-Signature"

	DefaultWebhookRetries = 3
)

type WebhookConfig struct {
	Logger *slog.Logger
	URL    string
	// Secret enables the HMAC-SHA256 body signature header
	Secret       string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// WebhookSink POSTs notices as JSON
type WebhookSink struct {
	client *retryablehttp.Client
	url    string
	secret []byte
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	client := retryablehttp.NewClient()
	client.RetryMax = DefaultWebhookRetries
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger.With("component", "notify", "sink", "webhook")
	}
	return &WebhookSink{
		client: client,
		url:    cfg.URL,
		secret: []byte(cfg.Secret),
	}
}

func (w *WebhookSink) Name() string {
	return "webhook"
}

// Sign returns the signature header value for a body
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookSink) Send(ctx context.Context, notice Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodPost,
		w.url,
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, notice.ID)
	req.Header.Set(EventHeader, notice.Type)
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
