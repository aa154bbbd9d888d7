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

package aws_test

import (
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/plugin/blob/aws"
	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/stretchr/testify/require"
)

func TestNewFromCmdlineOptions(t *testing.T) {
	require.NotNil(t, aws.NewFromCmdlineOptions())
}

func TestParseLocation(t *testing.T) {
	bucket, prefix, err := aws.ParseLocation("s3://music/works")
	require.NoError(t, err)
	require.Equal(t, "music", bucket)
	require.Equal(t, "works/", prefix)

	_, _, err = aws.ParseLocation("s3://")
	require.Error(t, err)
	_, _, err = aws.ParseLocation("gcs://music")
	require.Error(t, err)
}

func TestStartRequiresBucket(t *testing.T) {
	store, err := aws.NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, store.Start(), "bucket not set")
}

func TestUnstartedStoreUnavailable(t *testing.T) {
	store, err := aws.New("s3://music", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "music", store.Bucket())
	txn := store.NewTransaction(true)
	_, err = store.Get(txn, []byte("blob_x"))
	require.ErrorIs(t, err, types.ErrBlobStoreUnavailable)
	require.NoError(t, txn.Commit())
	require.Error(t, store.Set(txn, []byte("blob_x"), nil))
}
