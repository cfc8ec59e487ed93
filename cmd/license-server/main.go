package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"licenselock/internal/app"
	"licenselock/internal/config"
	"licenselock/pkg/contracts"
)

func main() {
	flags := pflag.NewFlagSet("license-server", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", os.Getenv(config.EnvPrefix+"_CONFIG_FILE"), "path to a YAML configuration file")
	showVersion := flags.BoolP("version", "v", false, "print version information and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(ctx)
}
