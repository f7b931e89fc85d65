package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write .crashrelay/config.yaml with the default settings and create the
report store directory. Data collection stays disabled until
'crashrelay consent grant' is run.`,
	RunE: runInit,
}

var (
	initForce bool
	initDir   string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
}

func runInit(cmd *cobra.Command, _ []string) error {
	base, err := filepath.Abs(initDir)
	if err != nil {
		return fmt.Errorf("resolving directory: %w", err)
	}
	dir := filepath.Join(base, ".crashrelay")
	configPath := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists at %s, use --force to overwrite", configPath)
	}

	if err := os.MkdirAll(filepath.Join(dir, "reports"), 0o750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	if err := config.WriteFile(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if !quiet {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Initialized crashrelay in %s\n", dir)
		fmt.Fprintln(out, "Data collection is disabled. Run 'crashrelay consent grant' to enable uploads.")
	}
	return nil
}
