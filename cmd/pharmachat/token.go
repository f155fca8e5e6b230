package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pharmachat"
)

type tokenOptions struct {
	Subject string
	TTL     time.Duration
}

func NewTokenCmd(rt *cliState) *cobra.Command {
	options := tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Auth.JWTSecret == "" {
				return errors.New("auth is disabled: set AUTH_JWT_SECRET or auth.jwt_secret")
			}
			ttl := rt.cfg.Auth.TokenTTL
			if cmd.Flags().Changed("ttl") {
				ttl = options.TTL
			}
			issuer, err := pharmachat.NewTokenIssuer(rt.cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := issuer.GenerateToken(options.Subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&options.Subject, "subject", "", "user or client the token is issued to")
	cmd.Flags().DurationVar(&options.TTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	cmd.MarkFlagRequired("subject")

	return cmd
}
