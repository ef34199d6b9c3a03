package worktree

import (
	"fmt"
	"io"
	"os"

	"github.com/odvcencio/got/pkg/object"
)

// CheckMergeOk is the commit-id half of MergeFiles' pre-flight: every
// tracked entry that records a commit must already be at the worktree's
// base commit. MergeFiles also refuses when any entry is in conflict.
func CheckMergeOk(fi *FileIndex, wtBaseCommitID object.ObjectID) error {
	var refused error
	_ = fi.ForEachEntrySafe(func(e *Entry) error {
		if e.HasCommit() && e.CommitID != wtBaseCommitID {
			refused = newErr(KindMixedCommits, "merge", e.Path, fmt.Errorf("entry at commit %s, worktree base %s", e.CommitID, wtBaseCommitID))
			return refused
		}
		return nil
	})
	return refused
}

// TreePairEntry is one matched, ancestor-only, or incoming-only tuple
// produced by a directory-less diff between two trees.
type TreePairEntry struct {
	Path         string
	Mode1, Mode2 object.FileMode
	ID1, ID2     object.ObjectID
	HasBlob1     bool
	HasBlob2     bool
}

// MergeFiles folds a directory-less tree1-vs-tree2 diff into the work
// tree: entries present on both sides are three-way merged against
// tree1 as ancestor; entries only in tree1 were removed upstream;
// entries only in tree2 were added upstream. progress, if non-nil, is
// invoked for per-path outcomes that change nothing on disk (notably
// CANNOT_DELETE). cancel, if non-nil, is polled before each pair; a
// cancelled run still syncs the index so a later status walk observes
// whatever was already merged.
func MergeFiles(wt *Worktree, store objectStore, pairs []TreePairEntry, derivedCommitID string, progress ProgressFunc, cancel func() bool) error {
	if err := CheckMergeOk(wt.Index(), wt.BaseCommitID); err != nil {
		return err
	}
	var conflicted error
	_ = wt.Index().ForEachEntrySafe(func(e *Entry) error {
		status, _, err := GetFileStatus(e, store, joinOSPath(wt.RootPath, e.Path))
		if err != nil {
			conflicted = err
		} else if status == StatusConflict {
			conflicted = newErr(KindConflicts, "merge", e.Path, fmt.Errorf("path has conflicts"))
		}
		return conflicted
	})
	if conflicted != nil {
		return conflicted
	}

	for _, p := range pairs {
		if cancel != nil && cancel() {
			if syncErr := wt.SyncFileIndex(); syncErr != nil {
				return syncErr
			}
			return newErr(KindCancelled, "merge", p.Path, errCancelled)
		}
		if err := mergeOnePair(wt, store, p, derivedCommitID, progress); err != nil {
			return err
		}
	}
	return wt.SyncFileIndex()
}

func mergeOnePair(wt *Worktree, store objectStore, p TreePairEntry, derivedCommitID string, progress ProgressFunc) error {
	entry, hasEntry := wt.Index().EntryGet(p.Path)
	absPath := joinOSPath(wt.RootPath, p.Path)

	switch {
	case p.HasBlob1 && p.HasBlob2:
		status := StatusNoChange
		if hasEntry {
			var err error
			status, _, err = GetFileStatus(entry, store, absPath)
			if err != nil {
				return err
			}
		}
		if status == StatusDelete {
			return nil // already gone locally, nothing to merge.
		}
		switch status {
		case StatusNoChange, StatusModify, StatusConflict, StatusAdd:
		default:
			return nil
		}

		ancestor, err := store.ReadBlockReader(p.ID1)
		if err != nil {
			return wrapf(KindNoObj, "merge", p.Path, "read ancestor blob: %w", err)
		}
		ancestorContent, err := readAllClose(ancestor)
		if err != nil {
			return err
		}
		derived, err := store.ReadBlockReader(p.ID2)
		if err != nil {
			return wrapf(KindNoObj, "merge", p.Path, "read derived blob: %w", err)
		}
		derivedContent, err := readAllClose(derived)
		if err != nil {
			return err
		}

		result, err := MergeFile(absPath, ancestorContent, derivedContent, "", derivedCommitID)
		if err != nil {
			return err
		}
		if hasEntry {
			if err := entry.EntryUpdate(absPath, p.ID2, object.ObjectID{}, result.Overlaps == 0); err != nil {
				return err
			}
			if result.Overlaps == 0 {
				markMergedModify(entry, p.ID2)
			}
		}
		return nil

	case p.HasBlob1 && !p.HasBlob2:
		// Removed upstream.
		if !hasEntry {
			return nil
		}
		status, _, err := GetFileStatus(entry, store, absPath)
		if err != nil {
			return err
		}
		switch status {
		case StatusNoChange:
			if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
				return wrapf(KindIO, "merge", p.Path, "remove: %w", err)
			}
			entry.MarkDeletedFromDisk()
			entry.Stage = StageDelete
			return nil
		case StatusDelete, StatusMissing:
			// Already gone locally; both sides agree on the removal.
			entry.MarkDeletedFromDisk()
			entry.Stage = StageDelete
			return nil
		case StatusAdd:
			// Added locally with content identical to what upstream
			// removed: safe to delete too.
			if entry.BlobID == p.ID1 {
				if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
					return wrapf(KindIO, "merge", p.Path, "remove: %w", err)
				}
				entry.MarkDeletedFromDisk()
				entry.Stage = StageDelete
			}
			return nil
		default:
			// Local changes block the upstream removal; the file stays
			// and the path is reported rather than failing the merge.
			return reportProgress(progress, StatusCannotDelete, p.Path)
		}

	default:
		// Added upstream (p.HasBlob2 only).
		if hasEntry {
			status, _, err := GetFileStatus(entry, store, absPath)
			if err != nil {
				return err
			}
			switch status {
			case StatusNoChange, StatusModify, StatusConflict:
				derived, err := store.ReadBlockReader(p.ID2)
				if err != nil {
					return wrapf(KindNoObj, "merge", p.Path, "read derived blob: %w", err)
				}
				derivedContent, err := readAllClose(derived)
				if err != nil {
					return err
				}
				result, err := MergeFile(absPath, nil, derivedContent, "", derivedCommitID)
				if err != nil {
					return err
				}
				if err := entry.EntryUpdate(absPath, p.ID2, object.ObjectID{}, result.Overlaps == 0); err != nil {
					return err
				}
				if result.Overlaps == 0 {
					markMergedModify(entry, p.ID2)
				}
				return nil
			}
		}

		data, err := store.ReadBlockReader(p.ID2)
		if err != nil {
			return wrapf(KindNoObj, "merge", p.Path, "read blob: %w", err)
		}
		content, err := readAllClose(data)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(absPath, content, 0o644); err != nil {
			return err
		}
		newEntry := EntryAlloc(p.Path)
		if err := newEntry.EntryUpdate(absPath, p.ID2, object.ObjectID{}, true); err != nil {
			return err
		}
		newEntry.Stage = StageAdd
		newEntry.StagedBlobID = p.ID2
		newEntry.StagedFileType = newEntry.FileType
		wt.Index().EntryAdd(newEntry)
		return nil
	}
}

// markMergedModify flags a cleanly three-way-merged entry as staged so
// the next CollectCommitables sees it as something to commit: a clean
// merge leaves the working file identical to its freshly recorded base
// blob, which the ordinary status walk reports as no-change.
func markMergedModify(entry *Entry, newBlobID object.ObjectID) {
	entry.Stage = StageModify
	entry.StagedBlobID = newBlobID
	entry.StagedFileType = entry.FileType
}

func readAllClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
