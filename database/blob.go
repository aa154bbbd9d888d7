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

package database

import (
	"context"
	"errors"

	"github.com/legiau879778/suimusic-sub000/database/types"
)

// ErrBlobCorrupt is returned when stored content no longer matches its
// reference
var ErrBlobCorrupt = errors.New("blob content does not match its reference")

// PutBlob stores data and returns its content-addressable reference.
// Storing the same content twice returns the same reference
func (d *Database) PutBlob(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", &ValidationError{Fields: []string{"data"}}
	}
	ref := types.BlobRefForContent(data)
	txn := d.blob.NewTransaction(true)
	if err := d.blob.Set(txn, types.BlobKey(ref), data); err != nil {
		_ = txn.Rollback()
		return "", err
	}
	if err := txn.Commit(); err != nil {
		return "", err
	}
	return ref, nil
}

// GetBlob returns the content stored under ref
func (d *Database) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := types.BlobRefDigest(ref); !ok {
		return nil, &ValidationError{Fields: []string{"ref"}}
	}
	txn := d.blob.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	data, err := d.blob.Get(txn, types.BlobKey(ref))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if types.BlobRefForContent(data) != ref {
		return nil, ErrBlobCorrupt
	}
	return data, nil
}

// HasBlob reports whether content for ref is stored locally. Foreign
// references are never considered present
func (d *Database) HasBlob(ctx context.Context, ref string) (bool, error) {
	_, err := d.GetBlob(ctx, ref)
	if err == nil {
		return true, nil
	}
	var verr *ValidationError
	if errors.Is(err, ErrNotFound) || errors.As(err, &verr) {
		return false, nil
	}
	return false, err
}
