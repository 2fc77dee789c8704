// File: cmd/countries.go

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var countriesCmd = &cobra.Command{
	Use:   "countries",
	Short: "List serviceable countries",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newAppRuntime()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, code := range rt.registry.ActiveCountries() {
			d, err := rt.registry.Resolve(code)
			if err != nil {
				continue
			}
			verification := "-"
			if d.OTPRequired {
				verification = "email"
			}
			fmt.Fprintf(out, "%s\t%s\tcaptcha=%s\tverification=%s\n",
				d.Code, d.NameEN, d.CaptchaType, verification)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countriesCmd)
}
