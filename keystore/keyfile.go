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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/legiau879778/suimusic-sub000/database/sops"
)

const keyFileType = "SuiSigningKey_ed25519"

// keyFileEnvelope is the JSON structure of a key file
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	PrivateKey  string `json:"privateKey"`
}

// LoadKeyFile loads a key from a file path.
// Returns ErrInsecureFileMode if the file has group or other access.
//
// The file is opened first and permissions are checked on the open handle
// (via fstat on Unix) to avoid a TOCTOU race between the permission check
// and the read.
func LoadKeyFile(path string) (*Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}

	// Valid key files are well under this size, even when SOPS encrypted
	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	if sops.IsEncrypted(data) {
		data, err = sops.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key file %q: %w", path, err)
		}
	}
	key, err := ParseKeyFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// ParseKeyFile accepts a JSON envelope, a sui.keystore style JSON array
// (the first entry is used), a bare suiprivkey string or base64 of
// flag || seed
func ParseKeyFile(data []byte) (*Key, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrInvalidKey
	}
	switch data[0] {
	case '{':
		var env keyFileEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("could not parse key file envelope: %w", err)
		}
		if env.Type != "" && env.Type != keyFileType {
			return nil, fmt.Errorf("unknown key type: %s", env.Type)
		}
		return parseKeyString(env.PrivateKey)
	case '[':
		var entries []string
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("could not parse keystore: %w", err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: keystore is empty", ErrInvalidKey)
		}
		return parseKeyString(entries[0])
	default:
		return parseKeyString(string(data))
	}
}

func parseKeyString(s string) (*Key, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, PrivateKeyHRP+"1") {
		return ParseBech32(s)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not bech32 or base64", ErrInvalidKey)
	}
	return fromFlagged(raw)
}

// MarshalKeyFile renders a key as a JSON envelope
func MarshalKeyFile(key *Key, description string) ([]byte, error) {
	encoded, err := key.Bech32()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(
		keyFileEnvelope{
			Type:        keyFileType,
			Description: description,
			PrivateKey:  encoded,
		},
		"",
		"  ",
	)
}

// EncryptKeyFile rewrites a plaintext key file as a SOPS document using the
// KMS keys named in the environment
func EncryptKeyFile(path string) error {
	key, err := LoadKeyFile(path)
	if err != nil {
		return err
	}
	plain, err := MarshalKeyFile(key, "suimusic minting key")
	if err != nil {
		return err
	}
	encrypted, err := sops.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt key file %q: %w", path, err)
	}
	return os.WriteFile(path, encrypted, 0o600)
}
