//go:build unix

package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

// watchPauseSignals maps SIGUSR1 to pause and SIGUSR2 to resume until the
// returned stop function is called.
func watchPauseSignals(ctrl *batch.Controller, logger *slog.Logger) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				switch sig {
				case syscall.SIGUSR1:
					ctrl.Pause()
					logger.Info("run paused", slog.String("run_id", ctrl.ID()))
				case syscall.SIGUSR2:
					ctrl.Resume()
					logger.Info("run resumed", slog.String("run_id", ctrl.ID()))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
