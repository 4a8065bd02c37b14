// Package cmd provides the CLI commands for ZapGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zapgate/zapgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "zapgate",
	Short: "ZapGate - session-scoped WhatsApp gateway proxy",
	Long: `ZapGate is a request proxy that sits between a multi-tenant dashboard
and a WhatsApp HTTP gateway. It resolves session handles to upstream
credentials, forwards /user and /admin traffic with the right token,
and lets superadmins impersonate a tenant for support work.

Quick start:
  1. Create a config file: zapgate.yaml
  2. Run: zapgate start

Configuration:
  Config is loaded from zapgate.yaml in the current directory,
  $HOME/.zapgate/, or /etc/zapgate/.

  Environment variables can override config values with the ZAPGATE_ prefix.
  Example: ZAPGATE_UPSTREAM_BASE_URL=http://localhost:8081

Commands:
  start       Start the gateway
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./zapgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
