package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptkit/internal/domain/relay"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		routes    map[string]string
		rulesOnly bool
	)
	cmd := &cobra.Command{
		Use:   "sw",
		Short: "Print the service worker generated for the intercept routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			merged := make(map[string]string, len(a.cfg.Scripts.Routes)+len(routes))
			for k, v := range a.cfg.Scripts.Routes {
				merged[k] = v
			}
			for k, v := range routes {
				merged[k] = v
			}

			rules, err := relay.BuildRules(merged)
			if err != nil {
				return err
			}
			if rulesOnly {
				out, err := sonic.ConfigStd.MarshalIndent(rules, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}

			script, err := relay.Worker(rules)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(script)
			return err
		},
	}
	cmd.Flags().StringToStringVar(&routes, "route", nil, "Intercept route local=upstream, repeatable")
	cmd.Flags().BoolVar(&rulesOnly, "rules", false, "Print the intercept rules as JSON instead of the script")
	return cmd
}
