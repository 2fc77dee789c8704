// File: cmd/test.go

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/flow"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run registration followed by login as an end-to-end check",
	Long: `Exercises the whole pipeline against one country: registers an
account, then signs in with the same credentials. Each phase gets its own
browser session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newAppRuntime()
		if err != nil {
			return err
		}
		code := resolveCountry(rt.cfg)

		rt.logger.Info("End-to-end check: registration phase", zap.String("country", code))
		reg := flow.NewRegistration(rt.cfg, rt.registry, rt.sessions, rt.challenges, rt.logger)
		if err := reg.Run(cmd.Context(), code); err != nil {
			return err
		}

		rt.logger.Info("End-to-end check: login phase", zap.String("country", code))
		login := flow.NewLogin(rt.cfg, rt.registry, rt.sessions, rt.challenges, rt.logger)
		return login.Run(cmd.Context(), code)
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
