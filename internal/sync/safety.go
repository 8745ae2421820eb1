package sync

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// SafetyConfig tunes the guardrails applied before a plan is allowed to
// execute, grounded on the teacher's internal/sync/safety.go (its S1-S7
// pre-flight checks), generalized from the teacher's OneDrive-quota checks
// to plain local/remote free-space and deletion-guard checks.
type SafetyConfig struct {
	// MaxDeletions caps the absolute number of Delete actions allowed
	// without --force. Zero means no absolute cap.
	MaxDeletions int
	// MaxDeletionPercent caps deletions as a percentage of the total
	// items present at the destination. Zero means no percentage cap.
	MaxDeletionPercent float64
	// Force bypasses both caps and any interactive confirmation.
	Force bool
	// MinFreeBytes is the free-space threshold for CheckDiskSpace.
	// RunOneWay does not call CheckDiskSpace, so it is not enforced there.
	MinFreeBytes int64
	// Prompt, if true, asks for confirmation on stdin when Force is false,
	// both caps pass and deletions exceed interactivePromptThreshold; if
	// stdin is not a terminal the run aborts with ErrDeletionGuard.
	Prompt bool
}

// interactivePromptThreshold is the deletion count above which an
// interactive confirmation is requested even when under the configured
// caps, mirroring the teacher's "large batch" confirmation behavior.
const interactivePromptThreshold = 1000

// CheckDeletionGuard validates a plan's deletion count against cfg, prompting
// interactively when appropriate. destCount is the number of items present
// at the destination (the percentage cap's denominator), not the number
// scanned at the source. It returns ErrDeletionGuard (wrapped with detail)
// when the run must abort.
func CheckDeletionGuard(cfg SafetyConfig, deletions, destCount int, logger *slog.Logger, stdin *os.File) error {
	if cfg.Force {
		return nil
	}

	if deletions == 0 {
		return nil
	}

	if cfg.MaxDeletions > 0 && deletions > cfg.MaxDeletions {
		return fmt.Errorf("%w: %d deletions exceeds absolute limit %d (use --force to override)",
			ErrDeletionGuard, deletions, cfg.MaxDeletions)
	}

	if cfg.MaxDeletionPercent > 0 && destCount > 0 {
		pct := float64(deletions) / float64(destCount) * 100
		if pct > cfg.MaxDeletionPercent {
			return fmt.Errorf("%w: %d deletions is %.1f%% of %d destination items, exceeds limit %.1f%% (use --force to override)",
				ErrDeletionGuard, deletions, pct, destCount, cfg.MaxDeletionPercent)
		}
	}

	if cfg.Prompt && deletions > interactivePromptThreshold {
		ok, err := confirmDeletion(stdin, deletions, logger)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%w: user declined to confirm %d deletions", ErrDeletionGuard, deletions)
		}
	}

	return nil
}

func confirmDeletion(stdin *os.File, deletions int, logger *slog.Logger) (bool, error) {
	if stdin == nil || !isatty.IsTerminal(stdin.Fd()) {
		return false, fmt.Errorf("%w: %d deletions require confirmation but stdin is not a terminal",
			ErrDeletionGuard, deletions)
	}

	fmt.Fprintf(os.Stderr, "about to delete %d items, continue? [y/N] ", deletions)

	reader := bufio.NewReader(stdin)

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("safety: reading confirmation: %w", err)
	}

	switch line {
	case "y\n", "Y\n", "yes\n", "y\r\n":
		return true, nil
	default:
		logger.Info("safety: deletion declined by user")
		return false, nil
	}
}

// CheckPathsDistinct guards against syncing a root into itself or into one
// of its own descendants, which would otherwise loop or corrupt data.
func CheckPathsDistinct(sourceRoot, destRoot string) error {
	if sourceRoot == destRoot {
		return fmt.Errorf("%w: source and destination roots are identical: %q", ErrValidation, sourceRoot)
	}

	srcLen, dstLen := len(sourceRoot), len(destRoot)

	if dstLen > srcLen && destRoot[:srcLen] == sourceRoot && destRoot[srcLen] == '/' {
		return fmt.Errorf("%w: destination %q is inside source %q", ErrValidation, destRoot, sourceRoot)
	}

	if srcLen > dstLen && sourceRoot[:dstLen] == destRoot && sourceRoot[dstLen] == '/' {
		return fmt.Errorf("%w: source %q is inside destination %q", ErrValidation, sourceRoot, destRoot)
	}

	return nil
}
