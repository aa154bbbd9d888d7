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
	"log/slog"
	"os"

	"github.com/legiau879778/suimusic-sub000/internal/config"
	"github.com/legiau879778/suimusic-sub000/internal/node"
	"github.com/spf13/cobra"
)

var reconcileFlags = struct {
	workID string
	all    bool
}{}

func reconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh work mirrors from the ledger once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			logger := commonRun()
			if err := node.Reconcile(
				cmd.Context(),
				cfg,
				logger,
				reconcileFlags.workID,
				reconcileFlags.all,
			); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().
		StringVar(&reconcileFlags.workID, "work", "", "work ID to reconcile")
	cmd.Flags().
		BoolVar(&reconcileFlags.all, "all", false, "reconcile every bound work")
	cmd.MarkFlagsMutuallyExclusive("work", "all")
	cmd.MarkFlagsOneRequired("work", "all")
	return cmd
}
