package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := shutdownContext(context.Background(), bootLogger)

	cmd := newRootCmd()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the process exit code contract, per
// the sentinel errors declared in internal/sync/errors.go.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return syncpkg.ExitCancelled
	case errors.Is(err, syncpkg.ErrDeletionGuard):
		return syncpkg.ExitDeletionGuard
	case errors.Is(err, syncpkg.ErrValidation):
		return syncpkg.ExitValidation
	default:
		return syncpkg.ExitPartialFailure
	}
}
