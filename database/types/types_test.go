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

package types_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/types"
	"github.com/stretchr/testify/require"
)

func TestBlobRefForContent(t *testing.T) {
	ref := types.BlobRefForContent([]byte("hello"))
	require.Equal(
		t,
		"sha256-2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		ref,
	)
	digest, ok := types.BlobRefDigest(ref)
	require.True(t, ok)
	require.Len(t, digest, 64)
	_, ok = types.BlobRefDigest("walrus://abc")
	require.False(t, ok)
}

func TestIsHexDigest(t *testing.T) {
	require.True(t, types.IsHexDigest(strings.Repeat("ab", 32)))
	require.False(t, types.IsHexDigest(strings.Repeat("AB", 32)))
	require.False(t, types.IsHexDigest(strings.Repeat("ab", 31)))
	require.False(t, types.IsHexDigest(strings.Repeat("zz", 32)))
}

func TestWeightMapScanValue(t *testing.T) {
	m := types.WeightMap{"0xa": 1, "0xb": 2}
	val, err := m.Value()
	require.NoError(t, err)
	var out types.WeightMap
	require.NoError(t, out.Scan(val))
	require.Equal(t, 3, out.Total())
	require.Equal(t, m, out)

	clone := out.Clone()
	clone["0xc"] = 5
	require.NotContains(t, out, "0xc")
}

func TestJSONDocument(t *testing.T) {
	var doc types.JSONDocument
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Song","contactEmail":"a@b.c"}`), &doc))
	require.Equal(t, "a@b.c", doc.Field("contactEmail"))
	require.Empty(t, doc.Field("missing"))

	val, err := doc.Value()
	require.NoError(t, err)
	var scanned types.JSONDocument
	require.NoError(t, scanned.Scan(val))
	require.JSONEq(t, string(doc), string(scanned))

	_, err = types.JSONDocument(`{broken`).Value()
	require.Error(t, err)
}

func TestStringList(t *testing.T) {
	var l types.StringList
	require.NoError(t, l.Scan(`["0xa","0xb"]`))
	require.Equal(t, types.StringList{"0xa", "0xb"}, l)
	val, err := types.StringList(nil).Value()
	require.NoError(t, err)
	require.Equal(t, "[]", val)
}
