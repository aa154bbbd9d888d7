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

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/plugin/metadata/sqlite"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoresAreIsolated(t *testing.T) {
	a, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	defer b.Close()

	rec := &models.ProofRecord{
		ID:       "01J00000000000000000000000",
		Status:   models.ProofStatusSubmitted,
		AuthorID: "author-1",
		FileHash: "aa",
		MetaHash: "bb",
	}
	require.NoError(t, a.DB().Create(rec).Error)

	var count int64
	require.NoError(t, a.DB().Model(&models.ProofRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
	require.NoError(t, b.DB().Model(&models.ProofRecord{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := sqlite.New(dir, nil, nil)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "metadata.sqlite"))
	require.NoError(t, err)
	require.True(t, store.DB().Migrator().HasTable(&models.WorkMirror{}))
	require.True(t, store.DB().Migrator().HasTable(&models.License{}))
	require.NoError(t, store.Close())
	// second close is a no-op
	require.NoError(t, store.Close())
}
