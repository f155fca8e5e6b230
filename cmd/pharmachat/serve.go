package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pharmachat"
)

type serveOptions struct {
	Host string
	Port int
}

func NewServeCmd(rt *cliState) *cobra.Command {
	options := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = options.Host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = options.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := pharmachat.NewServer(ctx, cfg, rt.logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&options.Host, "host", "", "listen host (env: HOST, default 0.0.0.0)")
	cmd.Flags().IntVar(&options.Port, "port", 0, "listen port (env: PORT, default 8000)")

	return cmd
}
