package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncd-project/syncd/internal/sync/transport"
)

// ComparisonPolicy selects how the Planner decides whether an existing
// destination file needs to be updated. Mutually exclusive, mirroring the
// teacher's planner.go classification flags.
type ComparisonPolicy int

const (
	// ComparisonDefault updates when sizes differ or mtimes disagree by
	// more than one second.
	ComparisonDefault ComparisonPolicy = iota
	// ComparisonChecksum always proposes Update, deferring to the
	// DeltaEngine/verifier for the actual content comparison.
	ComparisonChecksum
	// ComparisonIgnoreTimes updates whenever sizes match too (forcing a
	// content check) in addition to when sizes differ.
	ComparisonIgnoreTimes
	// ComparisonSizeOnly updates iff sizes differ.
	ComparisonSizeOnly
)

// mtimeTolerance is the maximum mtime disagreement treated as "unchanged"
// under ComparisonDefault, accounting for filesystems/transports that only
// store mtime to one-second resolution.
const mtimeTolerance = 1 * time.Second

// PlannerConfig controls classification behavior.
type PlannerConfig struct {
	Comparison ComparisonPolicy
	Mirror     bool
	// PreserveHardlinks, when set, makes the Planner mark every source
	// file beyond the first seen for a given inode as a hardlink to that
	// first file's destination path, rather than an independent content
	// transfer.
	PreserveHardlinks bool
}

// Planner is a side-effect-free translator from a scanned source tree (plus
// destination lookups through a Transport) into a stream of SyncActions.
// Grounded on the teacher's internal/sync/planner.go Planner type: a thin
// struct holding its config, the destination Transport and a logger, with
// classification factored into small single-purpose helpers.
type Planner struct {
	cfg    PlannerConfig
	dst    transport.Transport
	logger *slog.Logger
}

// NewPlanner constructs a Planner that resolves destination state through dst.
func NewPlanner(cfg PlannerConfig, dst transport.Transport, logger *slog.Logger) *Planner {
	return &Planner{cfg: cfg, dst: dst, logger: logger}
}

// Plan classifies every source entry into a SyncAction, and — when mirror
// mode is enabled — appends Delete actions for destination paths absent
// from source.
func (p *Planner) Plan(ctx context.Context, source []FileEntry) ([]SyncAction, error) {
	actions := make([]SyncAction, 0, len(source))
	sourceSet := make(map[string]bool, len(source))
	inodeFirstPath := make(map[uint64]string)

	for i := range source {
		entry := source[i]
		sourceSet[entry.Path] = true

		var (
			action SyncAction
			err    error
		)

		switch entry.Type {
		case ItemTypeDir:
			action, err = p.classifyDirectory(ctx, entry)
		default:
			action, err = p.classifyFile(ctx, entry)
		}

		if err != nil {
			return nil, fmt.Errorf("planner: classifying %q: %w", entry.Path, err)
		}

		if linked, ok := p.asHardlink(entry, action, inodeFirstPath); ok {
			action = linked
		}

		actions = append(actions, action)
	}

	if p.cfg.Mirror {
		deletions, err := p.planDeletions(ctx, sourceSet)
		if err != nil {
			return nil, err
		}

		actions = append(actions, deletions...)
	}

	return actions, nil
}

// asHardlink records the first destination path seen for entry's inode and,
// for every subsequent source file sharing that inode, rewrites action into
// a hardlink action pointing at it — a content transfer never happens for
// those files. seen is mutated as a side effect and must be threaded across
// calls for the whole Plan invocation.
func (p *Planner) asHardlink(entry FileEntry, action SyncAction, seen map[uint64]string) (SyncAction, bool) {
	if !p.cfg.PreserveHardlinks || entry.Type != ItemTypeFile || !entry.HasInode || entry.LinkCount <= 1 {
		return SyncAction{}, false
	}

	first, ok := seen[entry.Inode]
	if !ok {
		seen[entry.Inode] = entry.Path
		return SyncAction{}, false
	}

	src := entry
	actionType := action.Type
	if actionType == ActionSkip {
		actionType = ActionUpdate
	}

	return SyncAction{
		Type: actionType, Path: entry.Path, Source: &src,
		HardlinkTo: first, Reason: fmt.Sprintf("hardlinked to %s", first),
	}, true
}

func (p *Planner) classifyDirectory(ctx context.Context, entry FileEntry) (SyncAction, error) {
	exists, err := p.dst.Exists(ctx, entry.Path)
	if err != nil {
		return SyncAction{}, err
	}

	src := entry
	if !exists {
		return SyncAction{Type: ActionCreate, Path: entry.Path, Source: &src, Reason: "directory absent at destination"}, nil
	}

	return SyncAction{Type: ActionSkip, Path: entry.Path, Source: &src, Reason: "directory already present"}, nil
}

func (p *Planner) classifyFile(ctx context.Context, entry FileEntry) (SyncAction, error) {
	src := entry

	exists, err := p.dst.Exists(ctx, entry.Path)
	if err != nil {
		return SyncAction{}, err
	}

	if !exists {
		return SyncAction{Type: ActionCreate, Path: entry.Path, Source: &src, Reason: "absent at destination"}, nil
	}

	dstStat, err := p.dst.StatPath(ctx, entry.Path)
	if err != nil {
		return SyncAction{}, err
	}

	if p.needsUpdate(entry, dstStat) {
		return SyncAction{Type: ActionUpdate, Path: entry.Path, Source: &src, Reason: p.updateReason(entry, dstStat)}, nil
	}

	return SyncAction{Type: ActionSkip, Path: entry.Path, Source: &src, Reason: "unchanged"}, nil
}

func (p *Planner) needsUpdate(src FileEntry, dst transport.Stat) bool {
	sizesDiffer := src.Size != dst.Size

	switch p.cfg.Comparison {
	case ComparisonChecksum:
		return true
	case ComparisonIgnoreTimes:
		return true
	case ComparisonSizeOnly:
		return sizesDiffer
	default:
		if sizesDiffer {
			return true
		}

		delta := src.Mtime.Sub(dst.Mtime)
		if delta < 0 {
			delta = -delta
		}

		return delta > mtimeTolerance
	}
}

func (p *Planner) updateReason(src FileEntry, dst transport.Stat) string {
	switch p.cfg.Comparison {
	case ComparisonChecksum:
		return "checksum comparison forced"
	case ComparisonIgnoreTimes:
		return "ignore-times forces content comparison"
	case ComparisonSizeOnly:
		return "size differs"
	default:
		if src.Size != dst.Size {
			return "size differs"
		}

		return "mtime differs"
	}
}

func (p *Planner) planDeletions(ctx context.Context, sourceSet map[string]bool) ([]SyncAction, error) {
	dstEntries, err := p.dst.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("planner: listing destination for deletion scan: %w", err)
	}

	var deletions []SyncAction

	for _, e := range dstEntries {
		if sourceSet[e.Path] {
			continue
		}

		deletions = append(deletions, SyncAction{
			Type:   ActionDelete,
			Path:   e.Path,
			Reason: "absent from source in mirror mode",
		})
	}

	return deletions, nil
}
