package main

import (
	"flag"
	"fmt"
	"os"

	"ionbridge/pkg/config"
)

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
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
		return configError(err)
	}

	fmt.Fprintf(os.Stdout, "ok: %s (%d item(s), execution mode %s)\n", cfg.App.Name, len(cfg.Items), cfg.Engine.ExecutionMode)
	return nil
}
