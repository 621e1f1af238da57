package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"decisionos/internal/app"
	"decisionos/internal/engine"
	"decisionos/internal/metrics"
	"decisionos/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, allowActorHeader, noMetrics bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" && !allowActorHeader {
				return fmt.Errorf("DECISIONOS_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			if devLogin && secret == "" {
				return fmt.Errorf("--dev-login needs DECISIONOS_JWT_SECRET to sign tokens")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				if p := projectOverride(); p != "" {
					_, cfg, err := app.ResolveProjectAndConfig(ctx, p, e.Repo)
					if err != nil {
						return err
					}
					e.Config = cfg
				}
				var m *metrics.Metrics
				if !noMetrics {
					m = metrics.New()
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Logger:   logger,
					Metrics:  m,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: allowActorHeader,
						DevLogin:               devLogin,
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}
				if m != nil {
					e.Metrics = m
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					logger.Info("listening", zap.String("addr", addr), zap.String("base_path", basePath))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					var rec server.DeliveryRecorder
					if m != nil {
						rec = m
					}
					return server.NewDispatcher(e, logger, rec).Run(gctx)
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				fmt.Printf("Serving Decision OS API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (never in production)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")
	return cmd
}
