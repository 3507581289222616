package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/cleaner"
	applog "github.com/nao1215/imgref/internal/log"
	"github.com/nao1215/imgref/internal/probe"
	"github.com/nao1215/imgref/internal/proxy"
	"github.com/nao1215/imgref/internal/resolver"
	"github.com/nao1215/imgref/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver and image proxy over HTTP",
		Long: `Serve starts the HTTP API:

  POST /api/resolve      {"text": "..."} -> {"images": [...]}
  GET  /api/proxy-image  ?url=<image URL>[&bypass-cache=true]
  GET  /metrics          Prometheus metrics
  GET  /healthz          liveness

Logs are written to stderr as JSON.

Examples:
  imgref serve
  imgref serve --listen :8080`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("listen", "l", "",
		"Listen address (default: server.listen from the config file, or 127.0.0.1:8080)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := applog.NewJSONLogger(os.Stderr, cfg.Verbose)
	ctx, cancel := signalContext(logger)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := resolver.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	r, err := resolver.New(cfg.Resolver, resolver.WithLogger(logger), resolver.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	proxyHandler := proxy.NewHandler(r.Normalizer(), cfg.Resolver,
		proxy.WithHTTPClient(probe.NewHTTPClient(cfg.ProbeTimeout)),
		proxy.WithMaxImageSize(cfg.MaxImageSize),
		proxy.WithUserAgent(cfg.UserAgent),
		proxy.WithLogger(logger),
	)

	srv := server.New(r,
		server.WithLogger(logger),
		server.WithCleaner(cleaner.New(cfg.Resolver)),
		server.WithProxy(cfg.ProxyEndpoint, proxyHandler),
		server.WithGatherer(reg),
	)

	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s\n", cfg.ListenAddress)
	return srv.ListenAndServe(ctx, cfg.ListenAddress)
}
