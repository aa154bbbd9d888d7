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

package postgres_test

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/database/plugin/metadata/postgres"
	"github.com/stretchr/testify/require"
)

func TestStartWithConn(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store, err := postgres.NewWithOptions(
		postgres.WithConn(sqlDB),
		postgres.WithPrepareStmt(false),
		postgres.WithSkipMigrate(true),
	)
	require.NoError(t, err)
	require.NoError(t, store.Start())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "proof_record" WHERE status = $1`)).
		WithArgs(string(models.ProofStatusSubmitted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	var count int64
	err = store.DB().
		Model(&models.ProofRecord{}).
		Where("status = ?", models.ProofStatusSubmitted).
		Count(&count).Error
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseWithoutStart(t *testing.T) {
	store, err := postgres.NewWithOptions()
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
