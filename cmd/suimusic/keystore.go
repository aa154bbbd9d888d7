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

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/legiau879778/suimusic-sub000/internal/config"
	"github.com/legiau879778/suimusic-sub000/keystore"
	"github.com/spf13/cobra"
)

// keyFilePath returns the path argument or the configured key file
func keyFilePath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg := config.FromContext(cmd.Context())
	if cfg == nil || cfg.Ledger.KeyFile == "" {
		return "", errors.New("no key file given and none configured")
	}
	return cfg.Ledger.KeyFile, nil
}

func keystoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage the minting key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate [path]",
			Short: "Write a new random key file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := keyFilePath(cmd, args)
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("key file %q already exists", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				key, err := keystore.GenerateKey()
				if err != nil {
					return err
				}
				data, err := keystore.MarshalKeyFile(key, "suimusic minting key")
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return err
				}
				fmt.Println(key.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "address [path]",
			Short: "Print the account address of a key file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := keyFilePath(cmd, args)
				if err != nil {
					return err
				}
				key, err := keystore.LoadKeyFile(path)
				if err != nil {
					return err
				}
				fmt.Println(key.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "encrypt [path]",
			Short: "Encrypt a plaintext key file in place with SOPS",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := keyFilePath(cmd, args)
				if err != nil {
					return err
				}
				if err := keystore.EncryptKeyFile(path); err != nil {
					return err
				}
				slog.Info(
					"key file encrypted",
					"component", programName,
					"path", path,
				)
				return nil
			},
		},
	)
	return cmd
}
