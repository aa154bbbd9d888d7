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

package gcs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/plugin/blob/gcs"
	"github.com/stretchr/testify/require"
)

func TestValidateCredentials(t *testing.T) {
	tempDir := t.TempDir()
	existing := filepath.Join(tempDir, "credentials.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	require.NoError(t, gcs.ValidateCredentials(existing))
	require.NoError(t, gcs.ValidateCredentials(""))
	err := gcs.ValidateCredentials(filepath.Join(tempDir, "missing.json"))
	require.ErrorContains(t, err, "GCS credentials file does not exist")
}

func TestParseLocation(t *testing.T) {
	bucket, prefix, err := gcs.ParseLocation("gcs://music/blobs/")
	require.NoError(t, err)
	require.Equal(t, "music", bucket)
	require.Equal(t, "blobs/", prefix)

	bucket, prefix, err = gcs.ParseLocation("gcs://music")
	require.NoError(t, err)
	require.Equal(t, "music", bucket)
	require.Empty(t, prefix)

	_, _, err = gcs.ParseLocation("s3://music")
	require.Error(t, err)
	_, _, err = gcs.ParseLocation("gcs:///x")
	require.Error(t, err)
}

func TestNewFromCmdlineOptions(t *testing.T) {
	require.NotNil(t, gcs.NewFromCmdlineOptions())
}
