package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Persistent flags shared by every subcommand.
var (
	cfgFile   string
	logLevel  string
	logFormat string
	storeDir  string
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "crashrelay",
	Short: "Local crash report store with consent-gated upload",
	Long: `crashrelay keeps crash reports on local disk and delivers them to a
collection endpoint once the user has opted in to data collection.

Reports move through active, processing, packaged and uploading areas by
atomic rename. Revoking consent purges every stored report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code. Errors are
// printed to the command's error stream.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .crashrelay/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")
	pf.StringVar(&storeDir, "store-dir", "", "report store directory (default: .crashrelay/reports)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"store.dir":  "store-dir",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
}
