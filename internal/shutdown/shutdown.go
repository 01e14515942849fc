// Package shutdown funnels SIGINT/SIGTERM into a stop callback so the
// backfill can finish its in-flight epochs before the process exits.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel that receives SIGTERM and
// SIGINT.
func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)

	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives, runs signalHandler, then
// waits timeToWait before closing done so in-flight work can drain.
func ListenForShutdown(
	signalChan chan os.Signal,
	done chan bool,
	signalHandler func(),
	timeToWait time.Duration,
	l *zap.Logger,
) {
	sig := <-signalChan
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		l.Sugar().Infow("Caught shutdown signal", zap.String("signal", sig.String()))

		signalHandler()

		l.Sugar().Infow("Draining before exit", zap.Duration("timeToWait", timeToWait))
		time.Sleep(timeToWait)

		l.Sugar().Infow("Exiting")
		close(done)
	}
}
