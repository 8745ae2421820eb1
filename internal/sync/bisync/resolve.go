package bisync

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

// ConflictPolicy selects how Resolve breaks a tie between two conflicting
// sides. Grounded on SPEC_FULL.md's conflict-resolution section and
// original_source/src/bisync/engine.rs's resolve step (the concrete
// resolve_changes body was not present in the retrieved sources, so the
// policy set is authored from the table of named strategies the spec
// describes).
type ConflictPolicy int

const (
	PolicyNewerWins ConflictPolicy = iota
	PolicySourceWins
	PolicyDestWins
	PolicyRenameBoth
)

// Resolution is the outcome of resolving one conflicting Change.
type Resolution struct {
	Change Change
	// KeepSource/KeepDest indicate which side's content should end up
	// at Change.Path after resolution. Both true only for rename-both,
	// where each side's content is preserved but under a renamed path.
	KeepSource bool
	KeepDest   bool
	// RenameSourceAs/RenameDestAs are non-empty only under rename-both:
	// the conflict-suffixed path each side's content should be copied to,
	// in addition to (or instead of, depending on the caller) the
	// original path.
	RenameSourceAs string
	RenameDestAs   string
}

// Resolve decides the outcome for one conflicting Change (CreateCreateConflict,
// ModifiedBoth, or ModifyDeleteConflict) per policy. now is passed in rather
// than read from the clock, since the conflict filename embeds a timestamp
// and callers (including tests) need that to be deterministic. ModifiedBoth
// shares CreateCreateConflict's resolution logic: both sides have content to
// compare, the only difference is that a prior synced baseline existed.
func Resolve(change Change, policy ConflictPolicy, now time.Time) (Resolution, error) {
	switch change.Type {
	case syncpkg.ChangeCreateCreateConflict, syncpkg.ChangeModifiedBoth:
		return resolveCreateCreate(change, policy, now)
	case syncpkg.ChangeModifyDeleteConflict:
		return resolveModifyDelete(change, policy, now)
	default:
		return Resolution{}, fmt.Errorf("bisync: %s is not a conflict type", change.Type)
	}
}

func resolveCreateCreate(change Change, policy ConflictPolicy, now time.Time) (Resolution, error) {
	switch policy {
	case PolicySourceWins:
		return Resolution{Change: change, KeepSource: true}, nil
	case PolicyDestWins:
		return Resolution{Change: change, KeepDest: true}, nil
	case PolicyNewerWins:
		if change.SourceSide.Mtime.After(change.DestSide.Mtime) {
			return Resolution{Change: change, KeepSource: true}, nil
		}

		return Resolution{Change: change, KeepDest: true}, nil
	case PolicyRenameBoth:
		return Resolution{
			Change:         change,
			KeepSource:     true,
			KeepDest:       true,
			RenameSourceAs: conflictFilename(change.Path, now, SideSource),
			RenameDestAs:   conflictFilename(change.Path, now, SideDest),
		}, nil
	default:
		return Resolution{}, fmt.Errorf("bisync: unknown conflict policy %d", policy)
	}
}

func resolveModifyDelete(change Change, policy ConflictPolicy, now time.Time) (Resolution, error) {
	// The side that still has an entry is the one that modified it; the
	// other side deleted it. newer-wins and rename-both degrade to
	// keeping the modification, since there is nothing on the deleting
	// side to compare a timestamp against or to rename.
	switch policy {
	case PolicyDestWins:
		if change.DestSide == nil {
			return Resolution{Change: change}, nil // dest deleted, dest wins: stays deleted
		}

		return Resolution{Change: change, KeepDest: true}, nil
	case PolicySourceWins:
		if change.SourceSide == nil {
			return Resolution{Change: change}, nil
		}

		return Resolution{Change: change, KeepSource: true}, nil
	default: // PolicyNewerWins, PolicyRenameBoth
		if change.SourceSide != nil {
			return Resolution{Change: change, KeepSource: true}, nil
		}

		return Resolution{Change: change, KeepDest: true}, nil
	}
}

// conflictFilename embeds the side and a sortable UTC timestamp ahead of the
// file extension, e.g. "report.source.20260731T120000Z.csv". Naming
// convention grounded on original_source/src/bisync/engine.rs's documented
// conflict_filename(path, timestamp, side) helper.
func conflictFilename(path string, ts time.Time, side Side) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	stamp := ts.UTC().Format("20060102T150405Z")

	return fmt.Sprintf("%s.%s.%s%s", base, side, stamp, ext)
}
