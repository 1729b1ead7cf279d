package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// WaitForSignal 阻塞直到收到 SIGINT/SIGTERM、ctx 结束或任一错误通道产生错误
func WaitForSignal(ctx context.Context, logger *zap.Logger, errChs ...<-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	merged := make(chan error, len(errChs))
	for _, ch := range errChs {
		go func(ch <-chan error) {
			select {
			case err := <-ch:
				merged <- err
			case <-ctx.Done():
			}
		}(ch)
	}

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		return nil
	case err := <-merged:
		logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	case <-ctx.Done():
		return nil
	}
}
