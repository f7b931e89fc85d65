package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

var build = BuildInfo{
	Go:       runtime.Version(),
	Platform: runtime.GOOS + "/" + runtime.GOARCH,
}

// SetVersion records the values stamped into main at link time.
func SetVersion(version, commit, date string) {
	build.Version, build.Commit, build.Date = version, commit, date
}

// GetVersion returns the release version, "dev" for local builds.
func GetVersion() string {
	return build.Version
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if versionJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(build)
		}
		fmt.Fprintf(out, "crashrelay %s (%s)\n", build.Version, build.Platform)
		fmt.Fprintf(out, "  commit: %s\n", build.Commit)
		fmt.Fprintf(out, "  built:  %s\n", build.Date)
		fmt.Fprintf(out, "  go:     %s\n", build.Go)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(versionCmd)
}
