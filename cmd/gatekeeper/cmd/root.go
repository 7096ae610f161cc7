// Package cmd provides the CLI commands for the gatekeeper gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - policy enforcement gateway for AI agent tool calls",
	Long: `Gatekeeper sits in front of an agent's shell.exec, files.write, and
http.request tool calls and enforces an ALLOW/APPROVE/DENY policy against
each one before it executes.

Quick start:
  1. Create a policy file: policy.yaml
  2. Run: gatekeeper serve

Configuration:
  Config is loaded from gatekeeper.yaml in the current directory,
  $HOME/.gatekeeper/, or /etc/gatekeeper/.

  Environment variables override config values with the GATEKEEPER_
  prefix, plus the literal names documented in the config reference
  (BASE_URL, DATA_DIR, DEMO_MODE, APPROVAL_PROVIDER, ...).

Commands:
  serve             Start the gateway server
  hash-secret       Generate a SHA256 hash of a signing secret
  issue-capability  Mint a capability token for a tool call
  version           Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
