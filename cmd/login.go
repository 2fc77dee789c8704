// File: cmd/login.go

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/visaflow-cli/internal/flow"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the portal for a country",
	Long: `Runs the login flow: session setup, access challenge handling,
credential entry, rejection scanning, and one-time-code verification when
the country or the page asks for it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newAppRuntime()
		if err != nil {
			return err
		}
		f := flow.NewLogin(rt.cfg, rt.registry, rt.sessions, rt.challenges, rt.logger)
		return f.Run(cmd.Context(), resolveCountry(rt.cfg))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
