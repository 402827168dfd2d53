package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
	"missionctl/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the API under the base path. With MISSIONCTL_JWT_SECRET (or --jwt-secret) set,
every route except health and the OpenAPI document requires an HS256 bearer token;
otherwise the X-Actor-Id header names the actor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.New(os.Stderr, "", log.LstdFlags)
			a, err := app.Open(ctx, viper.GetString("workspace"), nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, _, err := a.Seed(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			secret := viper.GetString("jwt-secret")
			handler, err := server.New(server.Config{
				App:      a,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			if watch {
				go func() {
					if err := a.WatchRoster(ctx); err != nil {
						logger.Printf("roster watch stopped: %v", err)
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			if secret == "" {
				fmt.Fprintln(os.Stderr, color.YellowString("warning: no JWT secret configured, requests are trusted by X-Actor-Id"))
			}
			fmt.Printf("Serving missionctl API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr in missionctl.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the roster when missionctl.yml changes")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer auth")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for --actor-id signed with the JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("MISSIONCTL_JWT_SECRET is required")
			}
			tok, err := server.SignToken(secret, actor())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	return cmd
}
