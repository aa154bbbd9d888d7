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

package gcs

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	b := &BlobStoreGCS{}
	registry := prometheus.NewRegistry()
	WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))(b)
	WithPromRegistry(registry)(b)
	WithBucket("test-bucket")(b)
	WithPrefix("works/")(b)
	WithCredentialsFile("/tmp/creds.json")(b)
	WithTimeout(time.Second)(b)

	require.NotNil(t, b.logger)
	require.Equal(t, prometheus.Registerer(registry), b.promRegistry)
	require.Equal(t, "test-bucket", b.bucketName)
	require.Equal(t, "works/", b.prefix)
	require.Equal(t, "/tmp/creds.json", b.credentialsFile)
	require.Equal(t, time.Second, b.timeout)
}

func TestUnstartedStoreUnavailable(t *testing.T) {
	b, err := NewWithOptions(WithBucket("test-bucket"))
	require.NoError(t, err)
	txn := b.NewTransaction(false)
	_, err = b.Get(txn, []byte("blob_x"))
	require.ErrorIs(t, err, types.ErrBlobStoreUnavailable)
	require.Error(t, b.Set(txn, []byte("blob_x"), nil), "read-only txn")
}
