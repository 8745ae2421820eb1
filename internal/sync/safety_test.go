package sync

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckDeletionGuardUnderCap(t *testing.T) {
	cfg := SafetyConfig{MaxDeletions: 100}
	err := CheckDeletionGuard(cfg, 5, 1000, discardLogger(), nil)
	require.NoError(t, err)
}

func TestCheckDeletionGuardAbsoluteCapTrips(t *testing.T) {
	cfg := SafetyConfig{MaxDeletions: 10}
	err := CheckDeletionGuard(cfg, 11, 1000, discardLogger(), nil)
	require.ErrorIs(t, err, ErrDeletionGuard)
}

func TestCheckDeletionGuardPercentCapTrips(t *testing.T) {
	cfg := SafetyConfig{MaxDeletionPercent: 10}
	err := CheckDeletionGuard(cfg, 20, 100, discardLogger(), nil)
	require.ErrorIs(t, err, ErrDeletionGuard)
}

func TestCheckDeletionGuardForceBypasses(t *testing.T) {
	cfg := SafetyConfig{MaxDeletions: 1, Force: true}
	err := CheckDeletionGuard(cfg, 9999, 10000, discardLogger(), nil)
	require.NoError(t, err)
}

func TestCheckDeletionGuardZeroDeletionsAlwaysOK(t *testing.T) {
	cfg := SafetyConfig{MaxDeletions: 1, MaxDeletionPercent: 1}
	err := CheckDeletionGuard(cfg, 0, 100, discardLogger(), nil)
	require.NoError(t, err)
}

func TestCheckDeletionGuardPromptWithoutTTYFails(t *testing.T) {
	cfg := SafetyConfig{Prompt: true}
	err := CheckDeletionGuard(cfg, interactivePromptThreshold+1, 10000, discardLogger(), nil)
	require.ErrorIs(t, err, ErrDeletionGuard)
}

func TestCheckPathsDistinct(t *testing.T) {
	require.NoError(t, CheckPathsDistinct("/a/src", "/a/dst"))
	require.Error(t, CheckPathsDistinct("/a/src", "/a/src"))
	require.Error(t, CheckPathsDistinct("/a/src", "/a/src/nested"))
	require.Error(t, CheckPathsDistinct("/a/src/nested", "/a/src"))
}

func TestCheckDiskSpaceDisabledWhenZero(t *testing.T) {
	require.NoError(t, CheckDiskSpace("/", 0))
}

func TestCheckDiskSpaceRoot(t *testing.T) {
	// Any real filesystem should have at least one free byte.
	require.NoError(t, CheckDiskSpace("/", 1))
}
