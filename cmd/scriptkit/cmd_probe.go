package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptkit/internal/domain/adapter"
	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/registry"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/page"
)

func newProbeCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		globals []string
		pageURL string
	)
	cmd := &cobra.Command{
		Use:   "probe <provider> [option=value]...",
		Short: "Load a provider in a headless document and report what it installed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := adapter.Options{}
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("option %q is not name=value", kv)
				}
				opts[k] = v
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := a.client()
			catalog, err := a.catalog(ctx, pipeline.Deps{
				RelayPrefix: a.cfg.Relay.Prefix,
				Fetcher:     pipeline.AssetFetcherFunc(fetchWith(client)),
			})
			if err != nil {
				return err
			}
			entry, err := catalog.Get(args[0])
			if err != nil {
				return err
			}

			docCfg := page.DefaultConfig()
			if pageURL != "" {
				docCfg.URL = pageURL
			}
			logger := a.logger.Component("probe")
			doc, err := page.New(docCfg, page.FetcherFunc(fetchWith(client)), logger)
			if err != nil {
				return err
			}
			defer doc.Close()

			resolver := trigger.NewResolver(logger).WithServiceWorkerTimeout(a.cfg.ServiceWorker.Timeout)
			reg := registry.New(ctx, doc, registry.WithLogger(logger), registry.WithResolver(resolver))
			defer reg.Close()

			env := adapter.Env{Registry: reg, Runtime: doc.Globals(), Dev: true, Logger: logger}
			handle, err := entry.Factory.UseAny(nil, env, opts)
			if err != nil {
				return err
			}
			doc.MarkReady()
			_, loadErr := handle.Load(ctx)

			out := cmd.OutOrStdout()
			info := handle.Info()
			fmt.Fprintf(out, "provider: %s\n", entry.Key)
			fmt.Fprintf(out, "status:   %s\n", info.Status)
			fmt.Fprintf(out, "trigger:  %s\n", info.Trigger)
			if info.Src != "" {
				fmt.Fprintf(out, "src:      %s\n", info.Src)
			}
			for _, src := range doc.Scripts() {
				fmt.Fprintf(out, "script:   %s\n", src)
			}
			for _, name := range globals {
				v, ok := doc.Globals().Get(name)
				if !ok {
					fmt.Fprintf(out, "global:   %s undefined\n", name)
					continue
				}
				fmt.Fprintf(out, "global:   %s = %v\n", name, v)
			}
			for _, line := range doc.Console() {
				fmt.Fprintf(out, "console:  [%s] %s\n", line.Level, line.Message)
			}

			if loadErr != nil {
				return fmt.Errorf("%s did not load: %w", entry.Key, loadErr)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Give up after this long")
	cmd.Flags().StringSliceVar(&globals, "global", nil, "Global paths to print after loading")
	cmd.Flags().StringVar(&pageURL, "url", "", "location.href seen by the script")
	return cmd
}

func fetchWith(client *httpclient.Client) func(ctx context.Context, src string) ([]byte, error) {
	return func(ctx context.Context, src string) ([]byte, error) {
		resp, err := client.Get(ctx, src, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
		}
		if len(resp.Body) == 0 {
			return nil, errors.New("empty script body")
		}
		return resp.Body, nil
	}
}
