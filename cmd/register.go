// File: cmd/register.go

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/visaflow-cli/internal/flow"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a portal account for a country",
	Long: `Runs the full registration flow: session setup, access challenge
handling, form filling, a single classified submission, and email
verification when the country requires it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newAppRuntime()
		if err != nil {
			return err
		}
		f := flow.NewRegistration(rt.cfg, rt.registry, rt.sessions, rt.challenges, rt.logger)
		return f.Run(cmd.Context(), resolveCountry(rt.cfg))
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
