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

package aws

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/legiau879778/suimusic-sub000/database/sops"
	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultOpTimeout = 60 * time.Second

type BlobStoreS3 struct {
	promRegistry prometheus.Registerer
	logger       *S3Logger
	metrics      *blobMetrics
	client       *s3.Client
	bucket       string
	prefix       string
	region       string
	endpoint     string
	timeout      time.Duration
	encrypt      bool
}

type s3Txn struct {
	store     *BlobStoreS3
	finished  bool
	readWrite bool
}

// New creates an S3 blob store from an 's3://<bucket>[/prefix]' location
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreS3, error) {
	bucket, keyPrefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucket),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits an 's3://<bucket>[/prefix]' location into its parts
func ParseLocation(location string) (string, string, error) {
	path, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", errors.New(
			"s3 blob: expected location 's3://<bucket>[/prefix]'",
		)
	}
	if path == "" {
		return "", "", errors.New("s3 blob: bucket not set")
	}
	bucket, keyPrefix, _ := strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New("s3 blob: invalid S3 path (missing bucket)")
	}
	keyPrefix = strings.TrimSuffix(keyPrefix, "/")
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	return bucket, keyPrefix, nil
}

func NewWithOptions(opts ...BlobStoreS3OptionFunc) (*BlobStoreS3, error) {
	db := &BlobStoreS3{}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = NewS3Logger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	}
	// AWS config loading happens in Start()
	return db, nil
}

func (d *BlobStoreS3) opContext() (context.Context, context.CancelFunc) {
	timeout := d.timeout
	if timeout == 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (d *BlobStoreS3) Start() error {
	if d.bucket == "" {
		return errors.New("s3 blob: bucket not set")
	}
	ctx, cancel := d.opContext()
	defer cancel()
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("s3 blob: load default AWS config: %w", err)
	}
	if d.region != "" {
		awsCfg.Region = d.region
	}
	d.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.endpoint != "" {
			// S3-compatible stores such as MinIO
			o.BaseEndpoint = aws.String(d.endpoint)
			o.UsePathStyle = true
		}
	})
	if d.promRegistry != nil {
		d.metrics = newBlobMetrics(d.promRegistry)
	}
	return nil
}

func (d *BlobStoreS3) Stop() error {
	// S3 client doesn't need explicit closing
	d.client = nil
	return nil
}

func (d *BlobStoreS3) Close() error {
	return d.Stop()
}

func (d *BlobStoreS3) Client() *s3.Client {
	return d.client
}

func (d *BlobStoreS3) Bucket() string {
	return d.bucket
}

func (d *BlobStoreS3) NewTransaction(readWrite bool) types.Txn {
	return &s3Txn{store: d, readWrite: readWrite}
}

func (t *s3Txn) Commit() error {
	t.finished = true
	return nil
}

func (t *s3Txn) Rollback() error {
	t.finished = true
	return nil
}

func (d *BlobStoreS3) validateTxn(txn types.Txn, write bool) error {
	if txn == nil {
		return types.ErrNilTxn
	}
	t, ok := txn.(*s3Txn)
	if !ok || t.store != d {
		return types.ErrTxnWrongType
	}
	if t.finished {
		return errors.New("transaction already finished")
	}
	if write && !t.readWrite {
		return errors.New("transaction is read-only")
	}
	if d.client == nil {
		return types.ErrBlobStoreUnavailable
	}
	return nil
}

func (d *BlobStoreS3) fullKey(key []byte) *string {
	return aws.String(d.prefix + string(key))
}

func (d *BlobStoreS3) Get(txn types.Txn, key []byte) ([]byte, error) {
	if err := d.validateTxn(txn, false); err != nil {
		return nil, err
	}
	ctx, cancel := d.opContext()
	defer cancel()
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    d.fullKey(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, types.ErrBlobKeyNotFound
		}
		d.logger.Errorf("s3 get %q failed: %v", string(key), err)
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		d.logger.Errorf("s3 read %q failed: %v", string(key), err)
		return nil, err
	}
	if d.encrypt {
		data, err = d.decrypt(data)
		if err != nil {
			d.logger.Errorf("failed to decrypt %q: %v", string(key), err)
			return nil, err
		}
	}
	d.metrics.observe("read", len(data))
	d.logger.Debugf("s3 get %q ok (%d bytes)", string(key), len(data))
	return data, nil
}

func (d *BlobStoreS3) Set(txn types.Txn, key, val []byte) error {
	if err := d.validateTxn(txn, true); err != nil {
		return err
	}
	body := val
	if d.encrypt {
		var err error
		body, err = sops.Encrypt(
			[]byte(base64.StdEncoding.EncodeToString(val)),
		)
		if err != nil {
			d.logger.Errorf("failed to encrypt %q: %v", string(key), err)
			return err
		}
	}
	ctx, cancel := d.opContext()
	defer cancel()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    d.fullKey(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		d.logger.Errorf("s3 put %q failed: %v", string(key), err)
		return err
	}
	d.metrics.observe("write", len(val))
	d.logger.Debugf("s3 put %q ok (%d bytes)", string(key), len(val))
	return nil
}

func (d *BlobStoreS3) Delete(txn types.Txn, key []byte) error {
	if err := d.validateTxn(txn, true); err != nil {
		return err
	}
	ctx, cancel := d.opContext()
	defer cancel()
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    d.fullKey(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return types.ErrBlobKeyNotFound
		}
		d.logger.Errorf("s3 delete %q failed: %v", string(key), err)
		return err
	}
	return nil
}

// SOPS binary documents carry their payload as a JSON string, so the raw
// bytes are base64 encoded before encryption
func (d *BlobStoreS3) decrypt(data []byte) ([]byte, error) {
	plaintext, err := sops.Decrypt(data)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(string(plaintext))
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// Configure implements the plugin.Configurable interface
func (d *BlobStoreS3) Configure(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) {
	if logger != nil {
		d.logger = NewS3Logger(logger)
	}
	if promRegistry != nil {
		d.promRegistry = promRegistry
	}
}
