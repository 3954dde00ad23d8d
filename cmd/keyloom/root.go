// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the keyloom CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyloom",
		Short: "Keyloom - credential authentication and session lifecycle service",
		Long: `Keyloom authenticates credentials and manages session lifecycles:
registration, login with brute-force lockout, token rotation with reuse
detection, validation against a dual-store session registry, logout and
password reset.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
