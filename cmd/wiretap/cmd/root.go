// Package cmd provides the CLI commands for wiretap.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wiretap-mcp/wiretap/internal/config"
)

var cfgFile string
var adminStatePath string

var rootCmd = &cobra.Command{
	Use:   "wiretap",
	Short: "wiretap - an MCP man-in-the-middle proxy",
	Long: `wiretap sits between an MCP client and server and lets an operator
watch, hold, modify, drop, and replay the JSON-RPC messages crossing the
wire.

Quick start:
  1. Create a config file: wiretap.yaml
  2. Run: wiretap start -- npx @modelcontextprotocol/server-filesystem /tmp

Configuration:
  Config is loaded from wiretap.yaml in the current directory, $HOME/.wiretap/,
  or /etc/wiretap/.

  Environment variables can override config values with the WIRETAP_ prefix.
  Example: WIRETAP_SERVER_ADMIN_ADDR=127.0.0.1:9090

Commands:
  start       Start the proxy
  replay      Reissue a captured or supplied request to a running proxy
  sessions    Inspect a running proxy's captured session
  hash-key    Provision an operator and print a new API key without a running proxy
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./wiretap.yaml)")
	rootCmd.PersistentFlags().StringVar(&adminStatePath, "state", "", "path to the operator state file (default: admin.state_path from config)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
