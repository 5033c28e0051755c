package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/attnscope/cmd/attnscope/handlers"
	"github.com/23skdu/attnscope/internal/config"
	"github.com/23skdu/attnscope/internal/flight"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/store"
	"github.com/23skdu/attnscope/internal/viewer"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve the extraction API over HTTP",
		Args:    cobra.NoArgs,
		RunE:    serveHandler,
	}
	cmd.Flags().String("host", "", "Host to bind to")
	cmd.Flags().Int("port", 0, "HTTP server port")
	cmd.Flags().Int("metrics-port", -1, "Prometheus metrics port, 0 to serve /metrics only on the main port")
	cmd.Flags().String("api-key", "", "API key required on /api/ routes")
	cmd.Flags().StringSlice("allowed-origins", nil, "Allowed CORS origins")
	return cmd
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.MetricsPort, _ = cmd.Flags().GetInt("metrics-port")
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey, _ = cmd.Flags().GetString("api-key")
	}
	if cmd.Flags().Changed("allowed-origins") {
		cfg.AllowedOrigins, _ = cmd.Flags().GetStringSlice("allowed-origins")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	src, closer, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	log := logger.Log.With("serve")
	cache := store.NewCache(store.NewLoader(src, cfg.ArtifactFormat()))
	fonts := fontResolver(cfg)
	if !fonts.Available() {
		log.Warn("Devanagari font not found; secondary-language tokens may not display correctly")
	}
	svc := viewer.New(cache, fonts)

	mux := newMux(cfg, cache, svc, sourceCheck(src))
	servers := []*http.Server{{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: mux}}
	if cfg.MetricsPort > 0 {
		mm := http.NewServeMux()
		mm.Handle("/metrics", handlers.MetricsHandler())
		servers = append(servers, &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort), Handler: mm})
	}

	log.Info("Starting attnscope", "version", handlers.Version, "addr", servers[0].Addr, "source", src)
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			srv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}

func newMux(cfg config.Config, cache *store.Cache, svc handlers.Viewer, ready ...handlers.Check) *http.ServeMux {
	cors := handlers.NewCORSMiddleware(cfg.AllowedOrigins)
	auth := handlers.NewAuthMiddleware(cfg.APIKey)
	logging := handlers.NewLoggingMiddleware()

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.HealthHandler())
	mux.Handle("/healthz", handlers.HealthzHandler())
	mux.Handle("/readyz", handlers.ReadyzHandler(ready...))
	mux.Handle("/version", handlers.VersionHandler())
	mux.Handle("/metrics", handlers.MetricsHandler())

	apiMux := http.NewServeMux()
	apiMux.Handle("/api/models", auth.Authenticate(handlers.ModelsHandler(cache, cfg.Defaults, fontResolver(cfg).Available())))
	apiMux.Handle("/api/extract", auth.Authenticate(handlers.ExtractHandler(svc, cfg.Defaults)))
	mux.Handle("/api/", logging.Middleware(cors.Middleware(apiMux.ServeHTTP)))
	return mux
}

// sourceCheck reports whether the artifact source is reachable.
func sourceCheck(src source) handlers.Check {
	return handlers.Check{Name: "artifacts", Run: func(ctx context.Context) handlers.Status {
		switch s := src.(type) {
		case *store.DirSource:
			if st, err := os.Stat(s.Root); err != nil || !st.IsDir() {
				return handlers.Status{Status: "unhealthy", Message: "data dir not readable: " + s.Root}
			}
		case *flight.Client:
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if _, err := s.List(ctx); err != nil {
				return handlers.Status{Status: "unhealthy", Message: err.Error()}
			}
		}
		return handlers.Status{Status: "healthy"}
	}}
}
