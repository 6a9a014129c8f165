package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// serveUntilSignal runs srv until SIGINT/SIGTERM, then drains in-flight
// requests for up to ShutdownTimeout. cancel stops background routines.
func serveUntilSignal(srv *http.Server, cancel context.CancelFunc, logger *slog.Logger) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-sig:
	}

	logger.Info("🛑 Graceful shutdown initiated...")
	cancel()
	ctx, done := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("✅ Graceful shutdown completed")
	return nil
}

func ensureScratchDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
