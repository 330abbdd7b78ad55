package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// errSignal is the cancellation cause when a shutdown signal arrives.
var errSignal = errors.New("received shutdown signal")

// Run starts the server and blocks until shutdown.
// SIGTERM and SIGINT trigger a graceful shutdown: in-flight requests drain,
// then the cache and the database are closed.
func Run(ctx context.Context, cfg *ServerConfig) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			server.logger.Info("received shutdown signal", "signal", sig.String())
			cancel(fmt.Errorf("%w: %s", errSignal, sig))
		case <-ctx.Done():
		}
	}()

	return server.Start(ctx)
}
