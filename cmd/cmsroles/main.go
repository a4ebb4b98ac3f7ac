package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/cmsroles/pkg/app"
	"github.com/platinummonkey/cmsroles/pkg/cli"
	"github.com/platinummonkey/cmsroles/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := cli.NewEnv(func() (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		a, err := app.New(cfg)
		if err != nil {
			return nil, err
		}
		a.StartMetrics()
		return a, nil
	})
	env.Ctx = ctx

	// Create root command
	rootCmd := cli.NewRootCommand(env)

	err := rootCmd.Execute(os.Stdout, os.Args[1:])
	if closeErr := env.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
