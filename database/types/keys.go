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

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	BlobKeyPrefix = "blob_"
	BlobRefPrefix = "sha256-"
)

// BlobRefForContent returns the content-addressable reference for data
func BlobRefForContent(data []byte) string {
	sum := sha256.Sum256(data)
	return BlobRefPrefix + hex.EncodeToString(sum[:])
}

// BlobRefDigest returns the hex digest embedded in a reference produced by
// BlobRefForContent. The second return value is false for foreign references.
func BlobRefDigest(ref string) (string, bool) {
	digest, ok := strings.CutPrefix(ref, BlobRefPrefix)
	if !ok || !IsHexDigest(digest) {
		return "", false
	}
	return digest, true
}

// BlobKey returns the storage key for a blob reference
func BlobKey(ref string) []byte {
	return []byte(BlobKeyPrefix + ref)
}

// IsHexDigest reports whether s is a lowercase hex encoded 32-byte digest
func IsHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
