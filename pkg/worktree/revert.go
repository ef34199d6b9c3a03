package worktree

import (
	"os"

	"github.com/odvcencio/got/pkg/object"
)

// RevertPath reverts one tracked path to its base version. ADD entries
// are simply untracked, leaving the file on disk;
// DELETE/MODIFY/MODE_CHANGE/CONFLICT/MISSING entries have their base
// blob re-installed (symlink-aware) and their index timestamps restored
// to match.
func RevertPath(wt *Worktree, store objectStore, path string) error {
	entry, ok := wt.Index().EntryGet(path)
	if !ok {
		return newErr(KindNoTreeEntry, "revert", path, nil)
	}

	absPath := joinOSPath(wt.RootPath, path)
	status, _, err := GetFileStatus(entry, store, absPath)
	if err != nil {
		return err
	}

	if status == StatusAdd {
		wt.Index().EntryRemove(entry)
		return nil
	}

	switch status {
	case StatusDelete, StatusModify, StatusModeChange, StatusConflict, StatusMissing:
	default:
		return nil // already at base, nothing to revert.
	}

	r, err := store.ReadBlockReader(entry.BlobID)
	if err != nil {
		return wrapf(KindNoObj, "revert", path, "read base blob: %w", err)
	}
	data, err := readAllClose(r)
	if err != nil {
		return err
	}

	perm := os.FileMode(0o644)
	if entry.IsExecutable() {
		perm = 0o755
	}

	installedType := entry.FileType
	switch entry.FileType {
	case FileTypeSymlink:
		// path is always tracked here (entry was looked up above), so
		// an EEXIST collision is against our own prior version, not an
		// unversioned file.
		ft, err := InstallSymlink(wt.RootPath, wt.MetaDir, absPath, path, string(data), false)
		if err != nil {
			return err
		}
		installedType = ft
	default:
		if err := writeFileAtomic(absPath, data, perm); err != nil {
			return err
		}
	}

	if err := entry.EntryUpdate(absPath, object.ObjectID{}, object.ObjectID{}, true); err != nil {
		return err
	}
	// EntryUpdate derives the type from lstat, which cannot tell a
	// bad-symlink fallback file apart from a plain regular file.
	entry.FileType = installedType
	entry.Stage = StageNone
	entry.NoFileOnDisk = false
	return nil
}
