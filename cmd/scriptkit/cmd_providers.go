package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/providers"
)

func newProvidersCmd(a *app) *cobra.Command {
	var (
		category string
		query    string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the provider catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := a.catalog(cmd.Context(), pipeline.Deps{RelayPrefix: a.cfg.Relay.Prefix})
			if err != nil {
				return err
			}

			var list []providers.Registration
			if query != "" {
				list = catalog.Search(query, 0)
			} else {
				list = catalog.List(category)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(list, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tCATEGORY\tIMPORT\tHOSTS\tSOURCE")
			for _, reg := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					reg.Key, reg.Category, reg.ImportName, strings.Join(reg.Hosts, ","), reg.Source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list one category")
	cmd.Flags().StringVarP(&query, "search", "q", "", "Rank providers against a query")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
