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

// Package signature verifies Sui personal message signatures
package signature

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"
)

type Scheme byte

const (
	SchemeEd25519   Scheme = 0x00
	SchemeSecp256k1 Scheme = 0x01
	SchemeSecp256r1 Scheme = 0x02
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeSecp256k1:
		return "secp256k1"
	case SchemeSecp256r1:
		return "secp256r1"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

func (s Scheme) publicKeySize() int {
	switch s {
	case SchemeEd25519:
		return ed25519.PublicKeySize
	case SchemeSecp256k1, SchemeSecp256r1:
		return 33
	default:
		return 0
	}
}

const signatureSize = 64

// IntentScope is the first byte of the intent prefix of a signed message
type IntentScope byte

const (
	IntentTransactionData IntentScope = 0
	IntentPersonalMessage IntentScope = 3
)

var (
	ErrMalformed       = errors.New("malformed signature")
	ErrUnknownScheme   = errors.New("unknown signature scheme")
	ErrAddressMismatch = errors.New("public key does not match address")
	ErrBadSignature    = errors.New("signature verification failed")
)

// Reason mirrors the verification outcome stored alongside a proof
type Reason string

const (
	ReasonOK               Reason = "OK"
	ReasonInvalidSignature Reason = "INVALID_SIGNATURE"
	ReasonNotVerified      Reason = "NOT_VERIFIED"
)

// Verifier checks that sig over message was produced by address
type Verifier interface {
	Verify(message []byte, sig string, address string) bool
}

// SuiVerifier verifies serialized Sui signatures
type SuiVerifier struct{}

// Verify implements Verifier
func (SuiVerifier) Verify(message []byte, sig string, address string) bool {
	return Verify(message, sig, address)
}

// Parsed is a decoded serialized signature
type Parsed struct {
	PublicKey []byte
	Signature []byte
	Scheme    Scheme
}

// Address returns the Sui address of the embedded public key
func (p *Parsed) Address() string {
	return Address(p.Scheme, p.PublicKey)
}

// Parse decodes base64(flag || signature || publicKey)
func Parse(sig string) (*Parsed, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(raw) < 1 {
		return nil, ErrMalformed
	}
	scheme := Scheme(raw[0])
	pkSize := scheme.publicKeySize()
	if pkSize == 0 {
		return nil, fmt.Errorf("%w: flag 0x%02x", ErrUnknownScheme, raw[0])
	}
	if len(raw) != 1+signatureSize+pkSize {
		return nil, fmt.Errorf(
			"%w: unexpected length %d for %s",
			ErrMalformed,
			len(raw),
			scheme,
		)
	}
	return &Parsed{
		Scheme:    scheme,
		Signature: raw[1 : 1+signatureSize],
		PublicKey: raw[1+signatureSize:],
	}, nil
}

// Encode serializes a signature in the Sui wire format
func Encode(scheme Scheme, sig []byte, publicKey []byte) string {
	buf := make([]byte, 0, 1+len(sig)+len(publicKey))
	buf = append(buf, byte(scheme))
	buf = append(buf, sig...)
	buf = append(buf, publicKey...)
	return base64.StdEncoding.EncodeToString(buf)
}

// Address derives the Sui address for a public key
func Address(scheme Scheme, publicKey []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(scheme)})
	h.Write(publicKey)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeAddress lower-cases an address and pads it to 32 bytes
func NormalizeAddress(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	addr = strings.TrimPrefix(addr, "0x")
	if len(addr) < 64 {
		addr = strings.Repeat("0", 64-len(addr)) + addr
	}
	return "0x" + addr
}

// SameAddress compares two addresses ignoring case and zero padding
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// IntentDigest returns the blake2b-256 digest signed for data under the
// given intent scope. Personal messages are wrapped as a BCS byte vector
func IntentDigest(scope IntentScope, data []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(scope), 0, 0})
	if scope == IntentPersonalMessage {
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:n])
	}
	h.Write(data)
	var ret [32]byte
	copy(ret[:], h.Sum(nil))
	return ret
}

// Check verifies a serialized signature over a personal message for the
// given address
func Check(message []byte, sig string, address string) error {
	parsed, err := Parse(sig)
	if err != nil {
		return err
	}
	if !SameAddress(parsed.Address(), address) {
		return ErrAddressMismatch
	}
	digest := IntentDigest(IntentPersonalMessage, message)
	if !parsed.verifyDigest(digest[:]) {
		return ErrBadSignature
	}
	return nil
}

// Verify reports whether sig over message was produced by address. It never
// panics and treats every failure as an invalid signature
func Verify(message []byte, sig string, address string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return Check(message, sig, address) == nil
}

// VerifyWithReason is Verify with the outcome as a stored reason code.
// Empty signatures are reported as not verified
func VerifyWithReason(
	v Verifier,
	message []byte,
	sig string,
	address string,
) (bool, Reason) {
	if sig == "" || address == "" {
		return false, ReasonNotVerified
	}
	if v.Verify(message, sig, address) {
		return true, ReasonOK
	}
	return false, ReasonInvalidSignature
}

func (p *Parsed) verifyDigest(digest []byte) bool {
	switch p.Scheme {
	case SchemeEd25519:
		return ed25519.Verify(ed25519.PublicKey(p.PublicKey), digest, p.Signature)
	case SchemeSecp256k1:
		return verifySecp256k1(p.PublicKey, digest, p.Signature)
	case SchemeSecp256r1:
		return verifySecp256r1(p.PublicKey, digest, p.Signature)
	default:
		return false
	}
}

func verifySecp256k1(publicKey, digest, sig []byte) bool {
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return false
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return false
	}
	// Only the low-s form is accepted
	if s.IsOverHalfOrder() {
		return false
	}
	hash := sha256.Sum256(digest)
	return secpecdsa.NewSignature(&r, &s).Verify(hash[:], pub)
}

func verifySecp256r1(publicKey, digest, sig []byte) bool {
	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, publicKey)
	if x == nil {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	halfOrder := new(big.Int).Rsh(curve.Params().N, 1)
	if s.Cmp(halfOrder) > 0 {
		return false
	}
	hash := sha256.Sum256(digest)
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	return ecdsa.Verify(pub, hash[:], r, s)
}
