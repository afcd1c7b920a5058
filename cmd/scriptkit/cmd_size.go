package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptkit/internal/cache"
)

func newSizeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "size <url>...",
		Short: "Measure the transfer size of scripts, cached between runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheCfg := cache.DefaultConfig(a.cfg.Cache.Dir)
			if a.cfg.Cache.InMemory {
				cacheCfg = cache.InMemoryConfig()
			}
			cacheCfg.GCInterval = 0
			cacheCfg.Logger = a.logger.Logger
			store, err := cache.Open(cacheCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sizes, err := cache.NewBundleSizer(store, a.client(), a.cfg.Cache.TTL).Sizes(cmd.Context(), args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(sizes, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "URL\tRAW\tGZIP\tZSTD\tTRANSFER")
			for _, s := range sizes {
				if s.Unknown {
					fmt.Fprintf(w, "%s\t?\t?\t?\t?\n", s.URL)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.URL, kb(s.Raw), kb(s.Gzip), kb(s.Zstd), kb(s.Transfer))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func kb(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f kB", float64(n)/1024)
}
