package main

import (
	"context"

	"go.uber.org/zap"
)

type server interface {
	Shutdown(ctx context.Context) error
}

// shutdown drains srv and calls release once no request is in flight. When
// the drain times out release is skipped, handlers may still be running
// inference on the loaded models.
func shutdown(ctx context.Context, srv server, logger *zap.Logger, release func()) error {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed, leaving models loaded", zap.Error(err))
		return err
	}
	release()
	return nil
}
