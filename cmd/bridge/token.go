package main

import (
	"fmt"
	"os"

	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	"github.com/welldanyogia/event-bridge/backend/internal/config"
)

// TokenCmd implements the 'token' command.
type TokenCmd struct {
	Kind    string `help:"Token kind (runtime, producer)" default:"runtime"`
	Subject string `help:"Runtime or producer id" required:""`
}

// Run prints a signed token to stdout.
func (c *TokenCmd) Run(g *Globals) error {
	kind, err := auth.ParseKind(c.Kind)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if cfg.Auth.Secret == "" {
		return config.ErrMissingSecret
	}

	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: cfg.Auth.Secret,
		Expiry: cfg.Auth.TokenExpiry,
		Issuer: cfg.Auth.Issuer,
	})
	token, err := tokens.Generate(kind, c.Subject)
	if err != nil {
		return err
	}

	g.Logger.Debug("token issued", "kind", string(kind), "subject", c.Subject, "expiry", tokens.Expiry().String())
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}
