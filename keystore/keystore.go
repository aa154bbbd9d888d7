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

// Package keystore loads the ed25519 key the node uses to sign mint
// transactions.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/legiau879778/suimusic-sub000/signature"
)

// PrivateKeyHRP is the human readable part of bech32 encoded Sui private keys
const PrivateKeyHRP = "suiprivkey"

// Common errors returned by KeyStore operations.
var (
	ErrKeyNotLoaded      = errors.New("signing key not loaded")
	ErrInsecureFileMode  = errors.New("insecure file permissions")
	ErrUnsupportedScheme = errors.New("only ed25519 keys are supported")
	ErrInvalidKey        = errors.New("invalid private key")
)

// Signer produces Sui signatures for a single account
type Signer interface {
	// Address returns the account address of the key
	Address() string
	// SignTransaction signs BCS transaction bytes
	SignTransaction(txBytes []byte) (string, error)
	// SignPersonalMessage signs an arbitrary message
	SignPersonalMessage(message []byte) (string, error)
}

// Key is an ed25519 Sui account key
type Key struct {
	priv ed25519.PrivateKey
}

// GenerateKey creates a random key
func GenerateKey() (*Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Key{priv: priv}, nil
}

// NewKeyFromSeed builds a key from a 32-byte ed25519 seed
func NewKeyFromSeed(seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"%w: expected %d byte seed, got %d",
			ErrInvalidKey,
			ed25519.SeedSize,
			len(seed),
		)
	}
	return &Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseBech32 decodes a suiprivkey1... string
func ParseBech32(s string) (*Key, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if hrp != PrivateKeyHRP {
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidKey, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return fromFlagged(raw)
}

// fromFlagged decodes flag || seed
func fromFlagged(raw []byte) (*Key, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidKey
	}
	if signature.Scheme(raw[0]) != signature.SchemeEd25519 {
		return nil, fmt.Errorf(
			"%w: got %s",
			ErrUnsupportedScheme,
			signature.Scheme(raw[0]),
		)
	}
	return NewKeyFromSeed(raw[1:])
}

// Bech32 encodes the key as a suiprivkey1... string
func (k *Key) Bech32() (string, error) {
	raw := append([]byte{byte(signature.SchemeEd25519)}, k.priv.Seed()...)
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(PrivateKeyHRP, conv)
}

// PublicKey returns the ed25519 public key
func (k *Key) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Address implements Signer
func (k *Key) Address() string {
	return signature.Address(signature.SchemeEd25519, k.PublicKey())
}

// SignTransaction implements Signer
func (k *Key) SignTransaction(txBytes []byte) (string, error) {
	return k.sign(signature.IntentTransactionData, txBytes), nil
}

// SignPersonalMessage implements Signer
func (k *Key) SignPersonalMessage(message []byte) (string, error) {
	return k.sign(signature.IntentPersonalMessage, message), nil
}

func (k *Key) sign(scope signature.IntentScope, data []byte) string {
	digest := signature.IntentDigest(scope, data)
	sig := ed25519.Sign(k.priv, digest[:])
	return signature.Encode(signature.SchemeEd25519, sig, k.PublicKey())
}

// KeyStoreConfig holds configuration for the KeyStore.
type KeyStoreConfig struct {
	// Logger for keystore events.
	Logger *slog.Logger
	// KeyPath is the path to the signing key file.
	KeyPath string
}

// KeyStore holds the loaded minting key and implements Signer
type KeyStore struct {
	config KeyStoreConfig
	logger *slog.Logger
	key    *Key
	mu     sync.RWMutex
}

// NewKeyStore creates a new KeyStore with the given configuration.
func NewKeyStore(config KeyStoreConfig) *KeyStore {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &KeyStore{
		config: config,
		logger: config.Logger.With("component", "keystore"),
	}
}

// Load reads the key file from the configured path.
// Security: the file must not be readable by group or other.
func (ks *KeyStore) Load() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	key, err := LoadKeyFile(ks.config.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	ks.key = key
	ks.logger.Info(
		"signing key loaded",
		"address", key.Address(),
	)
	return nil
}

// SetKey replaces the loaded key
func (ks *KeyStore) SetKey(key *Key) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.key = key
}

// IsLoaded returns true once a key is available
func (ks *KeyStore) IsLoaded() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.key != nil
}

// Address implements Signer. It returns an empty string without a key
func (ks *KeyStore) Address() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.key == nil {
		return ""
	}
	return ks.key.Address()
}

// SignTransaction implements Signer
func (ks *KeyStore) SignTransaction(txBytes []byte) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.key == nil {
		return "", ErrKeyNotLoaded
	}
	return ks.key.SignTransaction(txBytes)
}

// SignPersonalMessage implements Signer
func (ks *KeyStore) SignPersonalMessage(message []byte) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.key == nil {
		return "", ErrKeyNotLoaded
	}
	return ks.key.SignPersonalMessage(message)
}
