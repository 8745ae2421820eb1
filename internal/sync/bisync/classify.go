package bisync

import (
	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

// mtimeTolerance mirrors the one-way Planner's tolerance for treating two
// timestamps as equal.
const mtimeTolerance = int64(1) // seconds

// Change is one path's classification result, carrying whatever entries were
// present so resolve/execute don't need to re-stat.
type Change struct {
	Path       string
	Type       syncpkg.ChangeType
	SourceSide *syncpkg.FileEntry
	DestSide   *syncpkg.FileEntry
}

// Classify applies the eleven-row decision table against one path given
// whatever source entry, dest entry, and prior-sync state exist for it.
// Grounded on the teacher's classifyFileWithBaseline/classifyFileNoBaseline
// (internal/sync/planner.go) generalized from OneDrive's three-way
// (local/remote/synced-baseline) model to this spec's (source/dest/prior)
// table, and on original_source/src/bisync/engine.rs's classify step.
func Classify(path string, source, dest *syncpkg.FileEntry, priorSource, priorDest *syncpkg.SyncState) Change {
	switch {
	case source != nil && dest == nil && priorSource == nil && priorDest == nil:
		return Change{Path: path, Type: syncpkg.ChangeNewInSource, SourceSide: source}

	case source == nil && dest != nil && priorSource == nil && priorDest == nil:
		return Change{Path: path, Type: syncpkg.ChangeNewInDest, DestSide: dest}

	case source != nil && dest == nil && (priorSource != nil || priorDest != nil):
		if priorSource != nil && !stateMatchesEntry(priorSource, source) {
			return Change{Path: path, Type: syncpkg.ChangeModifyDeleteConflict, SourceSide: source}
		}

		return Change{Path: path, Type: syncpkg.ChangeDeletedFromDest, SourceSide: source}

	case source == nil && dest != nil && (priorSource != nil || priorDest != nil):
		if priorDest != nil && !stateMatchesEntry(priorDest, dest) {
			return Change{Path: path, Type: syncpkg.ChangeModifyDeleteConflict, DestSide: dest}
		}

		return Change{Path: path, Type: syncpkg.ChangeDeletedFromSource, DestSide: dest}

	case source == nil && dest == nil:
		return Change{Path: path, Type: syncpkg.ChangeNone}

	case source != nil && dest != nil && priorSource == nil && priorDest == nil:
		if entriesEqual(source, dest) {
			return Change{Path: path, Type: syncpkg.ChangeNone, SourceSide: source, DestSide: dest}
		}

		return Change{Path: path, Type: syncpkg.ChangeCreateCreateConflict, SourceSide: source, DestSide: dest}

	case source != nil && dest != nil && priorSource != nil && priorDest != nil:
		sourceChanged := !stateMatchesEntry(priorSource, source)
		destChanged := !stateMatchesEntry(priorDest, dest)

		switch {
		case !sourceChanged && !destChanged:
			return Change{Path: path, Type: syncpkg.ChangeNone, SourceSide: source, DestSide: dest}
		case sourceChanged && !destChanged:
			return Change{Path: path, Type: syncpkg.ChangeModifiedInSource, SourceSide: source, DestSide: dest}
		case !sourceChanged && destChanged:
			return Change{Path: path, Type: syncpkg.ChangeModifiedInDest, SourceSide: source, DestSide: dest}
		default:
			return Change{Path: path, Type: syncpkg.ChangeModifiedBoth, SourceSide: source, DestSide: dest}
		}

	default:
		// Both sides present but the baseline is asymmetric (a prior row
		// exists for only one side) — not one of the eleven table rows;
		// treat conservatively as a create/create conflict rather than
		// guessing which side's missing baseline to trust.
		return Change{Path: path, Type: syncpkg.ChangeCreateCreateConflict, SourceSide: source, DestSide: dest}
	}
}

func entriesEqual(a, b *syncpkg.FileEntry) bool {
	if a.Size != b.Size {
		return false
	}

	delta := a.Mtime.Unix() - b.Mtime.Unix()
	if delta < 0 {
		delta = -delta
	}

	return delta <= mtimeTolerance
}

func stateMatchesEntry(state *syncpkg.SyncState, entry *syncpkg.FileEntry) bool {
	if state.Size != entry.Size {
		return false
	}

	delta := state.Mtime.Unix() - entry.Mtime.Unix()
	if delta < 0 {
		delta = -delta
	}

	return delta <= mtimeTolerance
}
