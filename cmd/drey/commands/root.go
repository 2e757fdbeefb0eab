package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "Drey - credit envelope protocol engine for agent liquidity pools",
	Long: `Drey manages bounded, time-limited credit envelopes that AI agents draw
against a shared Lightning liquidity pool.

The lifecycle is intent → offer → envelope → settlement: agents declare
willingness to spend, the pool underwrites their history into concrete
terms, providers accept envelopes, and settlements resolve each envelope
exactly once. All state lives in Redis; every issuance and settlement is
covered by a hash-addressed, optionally signed receipt.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
