package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		port string
		dev  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, collect and status endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("dev") {
				a.cfg.Server.Dev = dev
				a.cfg.Logging.Development = dev
			}

			srv, err := server.NewServer(a.cfg)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Run()
			}()

			select {
			case sig := <-sigChan:
				a.logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))
			case err := <-errChan:
				if err != nil {
					_ = srv.Shutdown(context.Background())
					return err
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "8000", "Server port")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development routes and manifest hot reload")
	return cmd
}
