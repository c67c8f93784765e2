package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"devconsole/internal/async"
	"devconsole/internal/logging"
	serverhttp "devconsole/internal/server/http"
)

const statePurgeInterval = time.Minute

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the devconsole API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().StringSlice("allowed-origins", nil, "CORS and websocket origins")
	bindFlag(c.v, "server.addr", cmd.Flags().Lookup("addr"))
	bindFlag(c.v, "server.allowed_origins", cmd.Flags().Lookup("allowed-origins"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	started := time.Now()
	container, err := buildContainer(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("shutdown: %v", err)
		}
	}()

	if err := container.Flags.Start(ctx); err != nil {
		c.logger.Warn("feature flags will not reload: %v", err)
	}

	if container.Auth != nil {
		purgeLogger := logging.NewComponentLogger("AuthPurge")
		async.Every(ctx, purgeLogger, "auth.purge-states", statePurgeInterval, func(ctx context.Context) {
			n, err := container.Auth.PurgeExpiredStates(ctx)
			if err != nil {
				purgeLogger.Warn("purge expired oauth states: %v", err)
				return
			}
			if n > 0 {
				purgeLogger.Debug("purged %d expired oauth states", n)
			}
		})
	} else {
		c.logger.Warn("wechat_work is not configured; the devpanel API is unauthenticated")
	}

	if logging.ParseLevel(c.cfg.Log.Level) > logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := serverhttp.NewRouter(serverhttp.RouterDeps{
		Config:   c.cfg.Server,
		Auth:     container.Auth,
		Panel:    container.Panel,
		Registry: container.Registry,
		Metrics:  container.Metrics,
		Logger:   logging.NewComponentLogger("HTTP"),
		Started:  started,
	})
	server := serverhttp.NewServer(c.cfg.Server.Addr, router, logging.NewComponentLogger("Server"))
	return server.Run(ctx)
}
