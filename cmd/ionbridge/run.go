package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"ionbridge/pkg/config"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/metrics"
	"ionbridge/pkg/production"
)

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the Production config file (yaml, json, or xml)")
	if err := fs.Parse(args); err != nil {
		return configError(err)
	}

	var opts []config.LoaderOption
	if *configPath != "" {
		opts = append(opts, config.WithConfigPaths(*configPath))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return configError(fmt.Errorf("load config: %w", err))
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	p := production.New(cfg)

	ctx := context.Background()
	if err := p.Build(ctx); err != nil {
		return fmt.Errorf("build production: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				logger.Log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", p.Health().LivenessHandler())
	mux.HandleFunc("/readyz", p.Health().ReadinessHandler())
	mux.HandleFunc("/healthz", p.Health().FullHandler())
	healthServer := &http.Server{Addr: ":8081", Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Warn("health server stopped", "error", err)
		}
	}()
	defer healthServer.Close()

	logger.Log.Info("ionbridge starting", "app", cfg.App.Name, "version", cfg.App.Version)
	return p.Run(ctx)
}
