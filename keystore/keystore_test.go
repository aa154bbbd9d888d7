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

package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/legiau879778/suimusic-sub000/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isWindows() bool {
	return runtime.GOOS == "windows"
}

func writeKeyFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minting.key")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	// Avoid umask interference
	require.NoError(t, os.Chmod(path, 0o600))
	return path
}

func TestBech32RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	encoded, err := key.Bech32()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "suiprivkey1"))
	parsed, err := ParseBech32(encoded)
	require.NoError(t, err)
	assert.Equal(t, key.Address(), parsed.Address())

	_, err = ParseBech32("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKeyFileFormats(t *testing.T) {
	key, err := NewKeyFromSeed(make([]byte, 32))
	require.NoError(t, err)
	encoded, err := key.Bech32()
	require.NoError(t, err)
	envelope, err := MarshalKeyFile(key, "test")
	require.NoError(t, err)
	flagged := strings.Repeat("A", 44)
	testDefs := []struct {
		name string
		data string
	}{
		{name: "envelope", data: string(envelope)},
		{name: "bech32", data: encoded + "\n"},
		{name: "keystore array", data: `["` + encoded + `"]`},
		{name: "base64", data: flagged},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			parsed, err := ParseKeyFile([]byte(testDef.data))
			require.NoError(t, err)
			assert.Equal(t, key.Address(), parsed.Address())
		})
	}
	_, err = ParseKeyFile([]byte(`{"type":"Other","privateKey":"x"}`))
	require.Error(t, err)
	_, err = ParseKeyFile([]byte(`[]`))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := fromFlagged(append([]byte{0x01}, make([]byte, 32)...))
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestSignaturesVerify(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	msg := []byte("approve work 01J")
	sig, err := key.SignPersonalMessage(msg)
	require.NoError(t, err)
	assert.True(t, signature.Verify(msg, sig, key.Address()))

	txSig, err := key.SignTransaction([]byte{1, 2, 3})
	require.NoError(t, err)
	parsed, err := signature.Parse(txSig)
	require.NoError(t, err)
	assert.Equal(t, signature.SchemeEd25519, parsed.Scheme)
	// Transaction signatures use a different intent
	assert.False(t, signature.Verify([]byte{1, 2, 3}, txSig, key.Address()))
}

func TestKeyStoreLoad(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	data, err := MarshalKeyFile(key, "test")
	require.NoError(t, err)
	ks := NewKeyStore(KeyStoreConfig{KeyPath: writeKeyFile(t, data)})
	_, err = ks.SignTransaction([]byte("tx"))
	require.ErrorIs(t, err, ErrKeyNotLoaded)
	assert.Empty(t, ks.Address())
	require.NoError(t, ks.Load())
	assert.True(t, ks.IsLoaded())
	assert.Equal(t, key.Address(), ks.Address())
	_, err = ks.SignTransaction([]byte("tx"))
	require.NoError(t, err)
}

func TestInsecureFileModeUnix(t *testing.T) {
	if isWindows() {
		t.Skip("Unix permission test; see TestInsecureKeyFileWindows for Windows DACL test")
	}
	key, err := GenerateKey()
	require.NoError(t, err)
	data, err := MarshalKeyFile(key, "test")
	require.NoError(t, err)
	path := writeKeyFile(t, data)
	require.NoError(t, os.Chmod(path, 0o644))
	ks := NewKeyStore(KeyStoreConfig{KeyPath: path})
	err = ks.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestEncryptKeyFileWithoutMasterKeys(t *testing.T) {
	if isWindows() {
		t.Skip("relies on Unix file modes")
	}
	t.Setenv("SUIMUSIC_GCP_KMS_RESOURCE_ID", "")
	t.Setenv("SUIMUSIC_AWS_KMS_KEY_ARNS", "")
	key, err := GenerateKey()
	require.NoError(t, err)
	data, err := MarshalKeyFile(key, "test")
	require.NoError(t, err)
	path := writeKeyFile(t, data)
	require.Error(t, EncryptKeyFile(path))
	// The plaintext file is left untouched
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, after)
}
