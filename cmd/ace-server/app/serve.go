// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/ace/pkg/auth"
	"github.com/stacklok/ace/pkg/authserver"
	"github.com/stacklok/ace/pkg/authserver/idp"
	"github.com/stacklok/ace/pkg/authserver/server"
	"github.com/stacklok/ace/pkg/authserver/signing"
	"github.com/stacklok/ace/pkg/authserver/storage"
	"github.com/stacklok/ace/pkg/logger"
	"github.com/stacklok/ace/pkg/mcpserver"
	"github.com/stacklok/ace/pkg/playbook"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ACE server",
		RunE:  runServe,
	}

	flags := serveCmd.Flags()
	flags.String("address", ":8080", "Listen address")
	flags.String("issuer", "", "Externally visible base URL of this server")
	flags.String("signing-secret", "", "HMAC secret for state and access tokens (min 32 bytes)")
	flags.String("storage", "memory", "Auth state store backend: memory or redis")
	flags.String("redis-addr", "localhost:6379", "Redis address (storage=redis)")
	flags.String("redis-password", "", "Redis password (storage=redis)")
	flags.Int("redis-db", 0, "Redis database number (storage=redis)")
	flags.String("db-path", "ace.db", "Path to the playbook SQLite database")
	flags.String("upstream-issuer", "", "Upstream OIDC issuer URL")
	flags.String("upstream-client-id", "", "Client ID at the upstream provider")
	flags.String("upstream-client-secret", "", "Client secret at the upstream provider")
	flags.String("trusted-client-id", "", "Statically trusted OAuth client ID")
	flags.String("trusted-client-secret", "", "Statically trusted OAuth client secret")
	flags.StringSlice("trusted-client-redirect-uris", nil, "Redirect URIs of the trusted client")
	flags.Bool("require-auth", true, "Require authentication on the MCP endpoint")
	flags.String("anonymous-tenant", "", "Fallback tenant ID for unauthenticated requests")

	_ = viper.BindPFlags(flags)
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &authserver.Config{
		Issuer:        viper.GetString("issuer"),
		SigningSecret: []byte(viper.GetString("signing-secret")),
	}
	if id := viper.GetString("trusted-client-id"); id != "" {
		cfg.TrustedClient = &authserver.TrustedClientConfig{
			ID:           id,
			Secret:       viper.GetString("trusted-client-secret"),
			RedirectURIs: viper.GetStringSlice("trusted-client-redirect-uris"),
		}
	}
	if upstreamIssuer := viper.GetString("upstream-issuer"); upstreamIssuer != "" {
		cfg.Upstream = &idp.Config{
			IssuerURL:    upstreamIssuer,
			ClientID:     viper.GetString("upstream-client-id"),
			ClientSecret: viper.GetString("upstream-client-secret"),
			RedirectURL:  cfg.Issuer + "/oauth/callback",
		}
	}

	store, err := newAuthStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var upstream idp.Provider
	if cfg.Upstream != nil {
		oidcProvider, err := idp.NewOIDCProvider(ctx, cfg.Upstream)
		if err != nil {
			return err
		}
		upstream = oidcProvider
	} else {
		logger.Warn("no upstream identity provider configured; authorization requests will fail closed")
	}

	oauthHandler, err := server.New(cfg, store, upstream)
	if err != nil {
		return err
	}

	playbookStore, err := playbook.Open(ctx, viper.GetString("db-path"))
	if err != nil {
		return err
	}
	defer playbookStore.Close()

	codec, err := signing.NewCodec(cfg.SigningSecret)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(codec, cfg.Issuer, viper.GetString("anonymous-tenant"))

	mcpHandler := mcpserver.New(playbookStore).Handler("/mcp")
	protected := mcpHandler
	if viper.GetBool("require-auth") {
		protected = authenticator.RequireAuth(protected)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/mcp", authenticator.Middleware(protected))
	router.Mount("/", oauthHandler.Routes())

	httpServer := &http.Server{
		Addr:              viper.GetString("address"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("ace server listening", "address", httpServer.Addr, "issuer", cfg.Issuer)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// newAuthStore builds the shared auth-state store from configuration.
func newAuthStore(ctx context.Context) (storage.Store, error) {
	switch backend := viper.GetString("storage"); backend {
	case "memory":
		logger.Warn("using in-memory auth storage; tokens will not survive restarts or scale out")
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(ctx,
			viper.GetString("redis-addr"),
			viper.GetString("redis-password"),
			viper.GetInt("redis-db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want memory or redis)", backend)
	}
}
