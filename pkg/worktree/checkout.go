package worktree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/got/pkg/object"
)

// ProgressFunc receives one status report per path a checkout or merge
// examines, whether or not that path changed. A non-nil error aborts the
// operation.
type ProgressFunc func(status Status, path string) error

// reportProgress invokes progress if non-nil.
func reportProgress(progress ProgressFunc, status Status, path string) error {
	if progress == nil {
		return nil
	}
	return progress(status, path)
}

// CheckoutFiles drives a checkout of newTree into wt's working directory
// for the given relative paths (empty slice means the whole tree),
// dispatching update/delete/install per path over DiffTree. progress, if
// non-nil, receives one status line per path examined.
func CheckoutFiles(wt *Worktree, store objectStore, newTreeID, newCommitID object.ObjectID, paths []string, progress ProgressFunc, cancel func() bool) error {
	newTree, err := store.ReadTree(newTreeID)
	if err != nil {
		return wrapf(KindNoObj, "checkout", "", "read tree: %w", err)
	}

	cb := TreeDiffCallbacks{
		OldNew: func(ie *Entry, te *object.TreeEntry, parentPath string) error {
			return updateBlob(wt, store, ie, te, parentPath, newCommitID, progress)
		},
		Old: func(ie *Entry, parentPath string) error {
			return deleteBlob(wt, store, ie, parentPath, progress)
		},
		New: func(te *object.TreeEntry, parentPath string) error {
			return installNew(wt, store, te, parentPath, newCommitID, progress)
		},
	}

	if len(paths) == 0 {
		if err := wt.Index().DiffTree(store, newTree, "", cb, cancel); err != nil {
			return err
		}
	} else {
		for _, p := range paths {
			relDir := filepath.Dir(p)
			if relDir == "." {
				relDir = ""
			}
			if err := wt.Index().DiffTree(store, newTree, relDir, cb, cancel); err != nil {
				return err
			}
		}
	}

	bumpBaseCommitID(wt, newCommitID, paths)
	return wt.SyncFileIndex()
}

// bumpBaseCommitID advances CommitID only for entries under the checked-out
// sub-paths; an empty paths set means the whole tree, matching
// CheckoutFiles' own whole-tree/partial dispatch above.
func bumpBaseCommitID(wt *Worktree, newCommitID object.ObjectID, paths []string) {
	_ = wt.Index().ForEachEntrySafe(func(e *Entry) error {
		if e.HasCommit() && pathIsChildOfAny(e.Path, paths) {
			e.CommitID = newCommitID
		}
		return nil
	})
}

// pathIsChildOfAny reports whether p equals one of paths or is a path
// beneath one of them. An empty paths set matches everything.
func pathIsChildOfAny(p string, paths []string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, base := range paths {
		if p == base || strings.HasPrefix(p, base+"/") {
			return true
		}
	}
	return false
}

func updateBlob(wt *Worktree, store objectStore, ie *Entry, te *object.TreeEntry, parentPath string, newCommitID object.ObjectID, progress ProgressFunc) error {
	absPath := joinOSPath(wt.RootPath, ie.Path)

	if ie.Stage != StageNone {
		return newErr(KindFileStaged, "checkout", ie.Path, fmt.Errorf("path has staged changes"))
	}

	status, info, err := GetFileStatus(ie, store, absPath)
	if err != nil {
		return err
	}

	switch status {
	case StatusObstructed:
		return reportProgress(progress, StatusObstructed, ie.Path)
	case StatusConflict:
		// Conflicted paths are skipped, not failed: the rest of the
		// checkout still proceeds.
		return reportProgress(progress, StatusCannotUpdate, ie.Path)
	}

	// The short-circuits compare the tree's exec bit against the live
	// on-disk mode, not the index entry's recorded perms: a local chmod
	// must fall through to the mode-change handling below.
	onDiskExec := ie.IsExecutable()
	if info != nil {
		onDiskExec = info.Mode()&0o100 != 0
	}
	if status != StatusMissing && status != StatusDelete && te.Mode.IsExecutable() == onDiskExec {
		if ie.HasCommit() && ie.CommitID == newCommitID {
			if info != nil {
				SyncTimestamps(ie, info)
			}
			return reportProgress(progress, StatusExists, ie.Path)
		}
		if ie.BlobID == te.ID {
			if info != nil {
				SyncTimestamps(ie, info)
			}
			return reportProgress(progress, StatusExists, ie.Path)
		}
	}

	switch status {
	case StatusModeChange:
		if err := reinstallEntry(wt, store, ie, te, absPath, newCommitID); err != nil {
			return err
		}
		return reportProgress(progress, StatusModeChange, ie.Path)
	case StatusDelete:
		// The local delete stands; only the recorded base moves.
		ie.BlobID = te.ID
		ie.CommitID = newCommitID
		return reportProgress(progress, StatusMerge, ie.Path)
	case StatusMissing:
		if err := reinstallEntry(wt, store, ie, te, absPath, newCommitID); err != nil {
			return err
		}
		return reportProgress(progress, StatusUpdate, ie.Path)
	}

	return threeWayUpdate(wt, store, ie, te, absPath, newCommitID, progress)
}

func reinstallEntry(wt *Worktree, store objectStore, ie *Entry, te *object.TreeEntry, absPath string, newCommitID object.ObjectID) error {
	r, err := store.ReadBlockReader(te.ID)
	if err != nil {
		return wrapf(KindNoObj, "checkout", absPath, "read blob: %w", err)
	}
	data, err := readAllClose(r)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if te.Mode.IsExecutable() {
		perm = 0o755
	}
	if err := writeFileAtomic(absPath, data, perm); err != nil {
		return err
	}
	if err := ie.EntryUpdate(absPath, te.ID, newCommitID, true); err != nil {
		return err
	}
	ie.Stage = StageNone
	return nil
}

func threeWayUpdate(wt *Worktree, store objectStore, ie *Entry, te *object.TreeEntry, absPath string, newCommitID object.ObjectID, progress ProgressFunc) error {
	if te.Mode.IsSymlink() {
		r, err := store.ReadBlockReader(te.ID)
		if err != nil {
			return wrapf(KindNoObj, "checkout", absPath, "read blob: %w", err)
		}
		targetBytes, err := readAllClose(r)
		if err != nil {
			return err
		}
		local, _ := os.Readlink(absPath)
		ancestorR, err := store.ReadBlockReader(ie.BlobID)
		if err != nil {
			return wrapf(KindNoObj, "checkout", absPath, "read ancestor blob: %w", err)
		}
		ancestorBytes, err := readAllClose(ancestorR)
		if err != nil {
			return err
		}
		result, err := MergeSymlink(absPath, string(ancestorBytes), local, string(targetBytes))
		if err != nil {
			return err
		}
		// A non-conflicting symlink merge leaves the on-disk link
		// matching the incoming target outright.
		result.LocalChangesSubsumed = result.Overlaps == 0
		return finishThreeWay(ie, te, newCommitID, result, progress)
	}

	ancestorR, err := store.ReadBlockReader(ie.BlobID)
	if err != nil {
		return wrapf(KindNoObj, "checkout", absPath, "read ancestor blob: %w", err)
	}
	ancestorBytes, err := readAllClose(ancestorR)
	if err != nil {
		return err
	}
	derivedR, err := store.ReadBlockReader(te.ID)
	if err != nil {
		return wrapf(KindNoObj, "checkout", absPath, "read derived blob: %w", err)
	}
	derivedBytes, err := readAllClose(derivedR)
	if err != nil {
		return err
	}

	result, err := MergeFile(absPath, ancestorBytes, derivedBytes, ie.CommitID.String(), newCommitID.String())
	if err != nil {
		return err
	}
	return finishThreeWay(ie, te, newCommitID, result, progress)
}

func finishThreeWay(ie *Entry, te *object.TreeEntry, newCommitID object.ObjectID, result MergeResult, progress ProgressFunc) error {
	ie.BlobID = te.ID
	ie.CommitID = newCommitID
	status := StatusUpdate
	switch {
	case result.Overlaps > 0:
		ie.Stage = StageModify
		status = StatusConflict
	case !result.LocalChangesSubsumed:
		ie.Stage = StageModify
		status = StatusMerge
	}
	return reportProgress(progress, status, ie.Path)
}

func deleteBlob(wt *Worktree, store objectStore, ie *Entry, parentPath string, progress ProgressFunc) error {
	absPath := joinOSPath(wt.RootPath, ie.Path)

	if ie.Stage != StageNone {
		return newErr(KindFileStaged, "checkout", ie.Path, fmt.Errorf("path has staged changes"))
	}

	status, info, err := GetFileStatus(ie, store, absPath)
	if err != nil {
		return err
	}

	// An on-disk symlink carrying any local change conflicts before the
	// staged-add preservation below can claim it: the link is replaced
	// by a regular conflict file holding its current target.
	if info != nil && info.Mode()&os.ModeSymlink != 0 && status != StatusNoChange {
		target, err := os.Readlink(absPath)
		if err != nil {
			return wrapf(KindIO, "checkout", absPath, "readlink: %w", err)
		}
		text := fmt.Sprintf("<<<<<<< local\n%s\n=======\n>>>>>>> removed\n", target)
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return wrapf(KindIO, "checkout", absPath, "remove: %w", err)
		}
		if err := writeFileAtomic(absPath, []byte(text), 0o644); err != nil {
			return err
		}
		ie.FileType = FileTypeBadSymlink
		return reportProgress(progress, StatusConflict, ie.Path)
	}

	switch status {
	case StatusModify, StatusAdd, StatusConflict:
		// Local changes survive the upstream removal: dropping the
		// recorded ids turns the entry into a schedule-add.
		ie.BlobID = object.ObjectID{}
		ie.CommitID = object.ObjectID{}
		return reportProgress(progress, StatusMerge, ie.Path)
	}

	if err := reportProgress(progress, StatusDelete, ie.Path); err != nil {
		return err
	}
	if status == StatusNoChange {
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return wrapf(KindIO, "checkout", absPath, "remove: %w", err)
		}
		rmdirEmptyParents(wt.RootPath, filepath.Dir(absPath))
	}
	wt.Index().EntryRemove(ie)
	return nil
}

// rmdirEmptyParents removes dir and its ancestors up to (not including)
// root as long as each is empty, stopping silently at the first
// non-empty directory (ENOTEMPTY) or any other removal failure.
func rmdirEmptyParents(root, dir string) {
	for dir != root && dir != "." && dir != string(filepath.Separator) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func installNew(wt *Worktree, store objectStore, te *object.TreeEntry, parentPath string, newCommitID object.ObjectID, progress ProgressFunc) error {
	path := joinRepoPath(parentPath, te.Name)
	absPath := joinOSPath(wt.RootPath, path)

	if te.Mode.IsDir() {
		if err := os.MkdirAll(absPath, 0o755); err != nil {
			if errors.Is(err, os.ErrExist) {
				if st, statErr := os.Stat(absPath); statErr == nil && !st.IsDir() {
					return newErr(KindFileObstructed, "checkout", path, fmt.Errorf("obstructed by existing file"))
				}
				return nil
			}
			return wrapf(KindIO, "checkout", absPath, "mkdir: %w", err)
		}
		return nil
	}

	if te.Mode.IsSubmodule() {
		return nil
	}

	r, err := store.ReadBlockReader(te.ID)
	if err != nil {
		return wrapf(KindNoObj, "checkout", path, "read blob: %w", err)
	}
	data, err := readAllClose(r)
	if err != nil {
		return err
	}

	var fileType FileType
	if te.Mode.IsSymlink() {
		// installNew only ever runs where the index has no entry for
		// path, so an EEXIST collision here is always against an
		// unversioned file, never a tracked one.
		fileType, err = InstallSymlink(wt.RootPath, wt.MetaDir, absPath, path, string(data), true)
		if err != nil {
			if errors.Is(err, ErrSymlinkPathUnversioned) {
				return reportProgress(progress, StatusUnversioned, path)
			}
			return err
		}
	} else {
		perm := os.FileMode(0o644)
		if te.Mode.IsExecutable() {
			perm = 0o755
		}
		if err := writeFileAtomic(absPath, data, perm); err != nil {
			return err
		}
		fileType = FileTypeRegular
	}

	entry := EntryAlloc(path)
	if err := entry.EntryUpdate(absPath, te.ID, newCommitID, true); err != nil {
		return err
	}
	entry.FileType = fileType
	wt.Index().EntryAdd(entry)
	return reportProgress(progress, StatusAdd, path)
}

