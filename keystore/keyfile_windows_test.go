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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

// currentUserSIDString returns the SID string for the current process user.
func currentUserSIDString(t *testing.T) string {
	t.Helper()

	var token windows.Token
	err := windows.OpenProcessToken(
		windows.CurrentProcess(),
		windows.TOKEN_QUERY,
		&token,
	)
	require.NoError(t, err)
	defer token.Close()

	tokenUser, err := token.GetTokenUser()
	require.NoError(t, err)

	return tokenUser.User.Sid.String()
}

// setDACL applies the DACL from an SDDL string to the file
func setDACL(t *testing.T, path string, sddl string, protected bool) {
	t.Helper()

	sd, err := windows.SecurityDescriptorFromString(sddl)
	require.NoError(t, err)

	dacl, _, err := sd.DACL()
	require.NoError(t, err)

	info := windows.SECURITY_INFORMATION(windows.DACL_SECURITY_INFORMATION)
	if protected {
		info |= windows.PROTECTED_DACL_SECURITY_INFORMATION
	}
	err = windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		info,
		nil, nil, dacl, nil,
	)
	require.NoError(t, err)
}

func writeWindowsKeyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minting.key")
	require.NoError(t, os.WriteFile(path, []byte("test"), 0o600))
	return path
}

func TestInsecureKeyFileWindows(t *testing.T) {
	testDefs := []struct {
		sddl string
		name string
	}{
		{sddl: "D:(A;;GR;;;WD)", name: "Everyone"},
		{sddl: "D:(A;;GR;;;BU)", name: "BUILTIN\\Users"},
		{sddl: "D:(A;;GR;;;AU)", name: "Authenticated Users"},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			path := writeWindowsKeyFile(t)
			setDACL(t, path, testDef.sddl, false)
			err := checkFilePermissions(path)
			require.ErrorIs(t, err, ErrInsecureFileMode)
			assert.Contains(t, err.Error(), testDef.name)
		})
	}
}

func TestSecureKeyFileWindows(t *testing.T) {
	path := writeWindowsKeyFile(t)
	// Default ACLs inherit from the parent directory and typically include
	// BUILTIN\Users
	setDACL(
		t,
		path,
		fmt.Sprintf("D:P(A;;GA;;;%s)", currentUserSIDString(t)),
		true,
	)
	assert.NoError(t, checkFilePermissions(path))
}

func TestCheckSDDLWithoutDACL(t *testing.T) {
	err := checkSDDL("minting.key", "O:BAG:SY")
	require.ErrorIs(t, err, ErrInsecureFileMode)
}
