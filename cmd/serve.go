package cmd

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/autowebkit/autowebkit/api"
	"github.com/autowebkit/autowebkit/config"
	"github.com/autowebkit/autowebkit/mcp"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/autowebkit/autowebkit/services/browser"
	"github.com/autowebkit/autowebkit/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var port, host string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// flags > environment > config file
			if port != "" {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			return serve(cmd.Context(), cfg)
		},
	}
	c.Flags().StringVar(&port, "port", "", "server port (default from config)")
	c.Flags().StringVar(&host, "host", "", "server host (default from config)")
	return c
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		return errors.Wrap(err, "failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Failed to close database: %v", err)
		}
	}()
	logger.Info(ctx, "Database ready: %s", cfg.Database.Path)

	browserManager := browser.NewManager(cfg, db)
	defer func() {
		if browserManager.IsRunning() {
			if err := browserManager.Stop(); err != nil {
				logger.Warn(ctx, "Failed to close browser: %v", err)
			}
		}
	}()

	mcpServer := mcp.NewMCPServer(db, browserManager, Version)
	if err := mcpServer.Reload(ctx); err != nil {
		logger.Warn(ctx, "Failed to load MCP commands: %v", err)
	}

	handler := api.NewHandler(db, browserManager, cfg)
	handler.SetMCPServer(mcpServer)
	router := api.SetupRouter(handler, mcpServer.Handler(), cfg.Debug)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(ctx, "Server started at http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	if cfg.Server.MCPPort != "" {
		g.Go(func() error {
			return mcpServer.StartStreamableHTTPServer(net.JoinHostPort(cfg.Server.MCPHost, cfg.Server.MCPPort))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mcpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "MCP server shutdown: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
