package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maiguru/internal/app"
	"maiguru/internal/db"
	"maiguru/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	var rate float64
	var burst int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the invoice reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("MAIGURU_JWT_SECRET is required for bearer auth")
			}
			if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, c *app.Context) error {
				handler, err := server.New(server.Config{
					Engine:   c.Engine,
					Payments: c.Payments,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:        secret,
						AllowActorHeader: allowActorHeader,
						AllowDevLogin:    devLogin,
						CallbackSecret:   c.Config.Gateways.CallbackSecret,
						Log:              c.Log,
					},
					RateLimit: server.RateLimitConfig{PerSecond: rate, Burst: burst},
					Log:       c.Log,
				})
				if err != nil {
					return err
				}
				if every := c.Config.Marketplace.ReconcileIntervalSeconds; every > 0 {
					go c.Payments.RunReconciler(ctx, time.Duration(every)*time.Second)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						c.Log.WithError(err).Warn("shutdown")
					}
				}()
				c.Log.WithField("addr", addr).Infof("serving Maiguru API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id (development only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().Float64Var(&rate, "rate", 10, "requests per second per client (0 disables)")
	cmd.Flags().IntVar(&burst, "burst", 20, "rate limit burst")
	return cmd
}
