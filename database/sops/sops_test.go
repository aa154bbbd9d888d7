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

package sops_test

import (
	"testing"

	"github.com/legiau879778/suimusic-sub000/database/sops"
	"github.com/stretchr/testify/require"
)

func TestEncryptWithoutKeys(t *testing.T) {
	t.Setenv(sops.EnvGcpKmsResourceID, "")
	t.Setenv(sops.EnvAwsKmsKeyArns, "")
	_, err := sops.Encrypt([]byte("secret"))
	require.ErrorIs(t, err, sops.ErrNoMasterKeys)
}

func TestIsEncrypted(t *testing.T) {
	require.True(t, sops.IsEncrypted([]byte(`{"data":"x","sops":{"version":"3.9.0"}}`)))
	require.False(t, sops.IsEncrypted([]byte(`{"data":"x"}`)))
	require.False(t, sops.IsEncrypted([]byte("suiprivkey1qq")))
}
