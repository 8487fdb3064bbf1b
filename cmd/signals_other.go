//go:build !unix

package cmd

import (
	"log/slog"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

func watchPauseSignals(*batch.Controller, *slog.Logger) func() {
	return func() {}
}
