// Package cli implements the taskyield command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/taskyield/taskyield/internal/daemon"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "taskyield",
	Short: "Referral tier and commission engine",
	Long: `taskyield resolves referral tiers, walks downlines and credits team,
community and upline commissions plus rule-based rewards. Run "taskyield serve"
for the HTTP API and the scheduled evaluation pass.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $TASKYIELD_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (daemon.Config, error) {
	if cfgPath != "" {
		return daemon.LoadFile(cfgPath)
	}
	return daemon.Load()
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
