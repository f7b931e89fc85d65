package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage the data collection decision",
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Enable data collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		tok, err := s.Gate.Grant()
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Data collection enabled (session %s)\n", tok.ID())
		}
		return nil
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Disable data collection and delete stored reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		purged, err := s.Pipeline.RevokeConsent()
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Data collection disabled, %d stored report(s) deleted\n", purged)
		}
		return err
	},
}

var consentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether data collection is enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		tok, err := s.Gate.Token()
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "disabled")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enabled (session %s, since %s)\n",
			tok.ID(), tok.IssuedAt().Local().Format(time.DateTime))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consentCmd)
	consentCmd.AddCommand(consentGrantCmd, consentRevokeCmd, consentStatusCmd)
}
