// tidumd serves the suggestion policy API to the tidum web UI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/runger/tidum/internal/config"
	"github.com/runger/tidum/internal/daemon"
	suggestlog "github.com/runger/tidum/internal/suggestions/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tidumd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	paths := config.DefaultPaths()
	cfg, err := config.LoadFromFile(paths.ConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := suggestlog.NewFromEnv(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// Match GOMAXPROCS to the container CPU quota.
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}
	defer undo()

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	return daemon.Run(context.Background(), &daemon.ServerConfig{
		Config:     cfg,
		ConfigPath: paths.ConfigFile(),
		Logger:     logger,
	})
}
