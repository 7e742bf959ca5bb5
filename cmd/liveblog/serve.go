package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/liveblog/feedserver"
	"github.com/hazyhaar/liveblog/shield"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr, dbPath string
	var editor, withMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the liveblog feed API",
		Long: `Serve the liveblog updates feed under /wp-json/liveblog/v1.

The editor API (POST/PUT under the same prefix) and the MCP endpoint at
/mcp are off unless enabled in the config or by flag.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			sc := &cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			if dbPath != "" {
				sc.DBPath = dbPath
			}
			sc.Editor = sc.Editor || editor
			sc.MCP = sc.MCP || withMCP

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root.logger(), sc)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&dbPath, "db", "", "path to SQLite database (default liveblog.db)")
	cmd.Flags().BoolVar(&editor, "editor", false, "mount the editor API")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "mount the MCP endpoint at /mcp")
	return cmd
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *feedserver.Config) error {
	s, err := feedserver.New(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, s, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("liveblog: serving", "addr", cfg.Addr, "db", cfg.DBPath, "editor", cfg.Editor, "mcp", cfg.MCP)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.Watch(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("liveblog: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(ctx context.Context, s *feedserver.Server, logger *slog.Logger) http.Handler {
	cfg := s.Config()
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(shield.Options{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.RateBurst,
		Exempt:        []string{"/healthz"},
		Done:          ctx.Done(),
		Logger:        logger,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "cache": s.Cache().Stats()})
	})

	r.Route("/wp-json", func(r chi.Router) {
		s.Routes(r)
		if cfg.Editor {
			s.EditorRoutes(r)
		}
	})

	if cfg.MCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "liveblog", Version: version}, nil)
		s.RegisterMCP(mcpSrv)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}
	return r
}
