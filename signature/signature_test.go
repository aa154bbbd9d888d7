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

package signature_test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/legiau879778/suimusic-sub000/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessage = []byte("suimusic claim: 0123456789abcdef")

func signEd25519(t *testing.T, msg []byte) (string, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	digest := signature.IntentDigest(signature.IntentPersonalMessage, msg)
	sig := ed25519.Sign(priv, digest[:])
	return signature.Encode(signature.SchemeEd25519, sig, pub),
		signature.Address(signature.SchemeEd25519, pub)
}

func signSecp256k1(t *testing.T, msg []byte) (string, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	digest := signature.IntentDigest(signature.IntentPersonalMessage, msg)
	hash := sha256.Sum256(digest[:])
	sig := secpecdsa.Sign(priv, hash[:])
	r := sig.R()
	s := sig.S()
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	raw := append(rBytes[:], sBytes[:]...)
	pub := priv.PubKey().SerializeCompressed()
	return signature.Encode(signature.SchemeSecp256k1, raw, pub),
		signature.Address(signature.SchemeSecp256k1, pub)
}

func signSecp256r1(t *testing.T, msg []byte) (string, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest := signature.IntentDigest(signature.IntentPersonalMessage, msg)
	hash := sha256.Sum256(digest[:])
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	require.NoError(t, err)
	n := elliptic.P256().Params().N
	if s.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		s.Sub(n, s)
	}
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])
	pub := elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)
	return signature.Encode(signature.SchemeSecp256r1, raw, pub),
		signature.Address(signature.SchemeSecp256r1, pub)
}

func TestVerifySchemes(t *testing.T) {
	testDefs := []struct {
		name string
		sign func(*testing.T, []byte) (string, string)
	}{
		{name: "ed25519", sign: signEd25519},
		{name: "secp256k1", sign: signSecp256k1},
		{name: "secp256r1", sign: signSecp256r1},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			sig, addr := testDef.sign(t, testMessage)
			assert.True(t, signature.Verify(testMessage, sig, addr))
			assert.True(
				t,
				signature.Verify(testMessage, sig, strings.ToUpper(addr[2:])),
				"address comparison should ignore case and prefix",
			)
			assert.False(t, signature.Verify([]byte("other message"), sig, addr))
			_, otherAddr := testDef.sign(t, testMessage)
			assert.False(t, signature.Verify(testMessage, sig, otherAddr))
		})
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	_, addr := signEd25519(t, testMessage)
	testDefs := []struct {
		name string
		sig  string
	}{
		{name: "empty", sig: ""},
		{name: "not base64", sig: "***"},
		{name: "unknown flag", sig: base64.StdEncoding.EncodeToString(append([]byte{0x09}, make([]byte, 96)...))},
		{name: "truncated", sig: base64.StdEncoding.EncodeToString([]byte{0x00, 1, 2, 3})},
		{name: "zero ed25519", sig: base64.StdEncoding.EncodeToString(make([]byte, 97))},
		{name: "zero secp256k1", sig: base64.StdEncoding.EncodeToString(append([]byte{0x01}, make([]byte, 97)...))},
		{name: "zero secp256r1", sig: base64.StdEncoding.EncodeToString(append([]byte{0x02}, make([]byte, 97)...))},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.False(t, signature.Verify(testMessage, testDef.sig, addr))
		})
	}
}

func TestCheckErrors(t *testing.T) {
	sig, addr := signEd25519(t, testMessage)
	require.NoError(t, signature.Check(testMessage, sig, addr))
	_, other := signEd25519(t, testMessage)
	require.ErrorIs(t, signature.Check(testMessage, sig, other), signature.ErrAddressMismatch)
	require.ErrorIs(t, signature.Check([]byte("x"), sig, addr), signature.ErrBadSignature)
	require.ErrorIs(t, signature.Check(testMessage, "AA==", addr), signature.ErrMalformed)
}

func TestVerifyWithReason(t *testing.T) {
	sig, addr := signEd25519(t, testMessage)
	v := signature.SuiVerifier{}
	ok, reason := signature.VerifyWithReason(v, testMessage, sig, addr)
	assert.True(t, ok)
	assert.Equal(t, signature.ReasonOK, reason)
	ok, reason = signature.VerifyWithReason(v, []byte("tampered"), sig, addr)
	assert.False(t, ok)
	assert.Equal(t, signature.ReasonInvalidSignature, reason)
	ok, reason = signature.VerifyWithReason(v, testMessage, "", addr)
	assert.False(t, ok)
	assert.Equal(t, signature.ReasonNotVerified, reason)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(
		t,
		"0x"+strings.Repeat("0", 62)+"ab",
		signature.NormalizeAddress("0xAB"),
	)
	assert.True(t, signature.SameAddress("0x2", "0x"+strings.Repeat("0", 63)+"2"))
	assert.False(t, signature.SameAddress("0x2", "0x3"))
}

func TestIntentDigestPrefixesLength(t *testing.T) {
	a := signature.IntentDigest(signature.IntentPersonalMessage, []byte("abc"))
	b := signature.IntentDigest(signature.IntentTransactionData, []byte("abc"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, signature.IntentDigest(signature.IntentPersonalMessage, []byte("abc")))
}
