package worktree

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/got/pkg/diff3"
)

// MergeResult reports the outcome of a three-way content merge.
type MergeResult struct {
	Overlaps             int
	LocalChangesSubsumed bool
}

// MergeFile three-way merges ancestorContent (possibly nil, meaning no
// common ancestor existed and both sides are additions) and
// derivedContent into the file at absPath, labeling conflict markers
// with the given ancestor/derived commit ids. The merged result replaces
// absPath via fsync+chmod+rename; on any failure the temp file is
// removed and absPath is left untouched.
func MergeFile(absPath string, ancestorContent, derivedContent []byte, ancestorCommitID, derivedCommitID string) (MergeResult, error) {
	st, err := os.Lstat(absPath)
	if err != nil {
		return MergeResult{}, wrapf(KindIO, "merge file", absPath, "lstat: %w", err)
	}

	localContent, err := os.ReadFile(absPath)
	if err != nil {
		return MergeResult{}, wrapf(KindIO, "merge file", absPath, "read: %w", err)
	}

	labels := diff3.Labels{
		Base:    fmt.Sprintf("base: commit %s", ancestorCommitID),
		Derived: fmt.Sprintf("merged change: commit %s", derivedCommitID),
	}
	result := diff3.Merge(ancestorContent, localContent, derivedContent, labels)

	subsumed := false
	if result.Overlaps == 0 && bytes.Equal(result.Merged, derivedContent) {
		subsumed = true
	}

	if err := installMerged(absPath, result.Merged, st.Mode()); err != nil {
		return MergeResult{}, err
	}

	return MergeResult{Overlaps: result.Overlaps, LocalChangesSubsumed: subsumed}, nil
}

// installMerged writes data to a temp file in path's directory, then
// fsyncs, chmods to mode, and renames it over path. The temp file is
// unlinked on any failure along the way.
func installMerged(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-merge-*")
	if err != nil {
		return wrapf(KindIO, "merge file", path, "create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "merge file", path, "write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "merge file", path, "fsync: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "merge file", path, "fchmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "merge file", path, "close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "merge file", path, "rename: %w", err)
	}
	return nil
}

// MergeSymlink three-way merges a symlink whose current on-disk target
// is localTarget against ancestorTarget and derivedTarget. Targets are
// compared as strings, never dereferenced. Nothing conflicts when both
// sides are unchanged, when only the derived side changed, or when both
// made the same change; in every other case, including a change on the
// local side only, the symlink is replaced by a regular 0644 conflict
// file holding all three targets between conflict markers.
func MergeSymlink(absPath string, ancestorTarget, localTarget, derivedTarget string) (MergeResult, error) {
	switch {
	case localTarget == ancestorTarget && derivedTarget == ancestorTarget:
		return MergeResult{}, nil // both sides unchanged; MERGE, no-op.

	case localTarget == ancestorTarget && derivedTarget != ancestorTarget:
		if err := updateSymlink(absPath, derivedTarget); err != nil {
			return MergeResult{}, err
		}
		return MergeResult{}, nil

	case localTarget != ancestorTarget && derivedTarget == localTarget:
		return MergeResult{}, nil // both sides made the identical change.

	default:
		text := fmt.Sprintf("<<<<<<< local\n%s\n||||||| base\n%s\n=======\n%s\n>>>>>>> derived\n",
			localTarget, ancestorTarget, derivedTarget)
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return MergeResult{}, wrapf(KindIO, "merge symlink", absPath, "remove: %w", err)
		}
		if err := writeFileAtomic(absPath, []byte(text), 0o644); err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Overlaps: 1}, nil
	}
}

// updateSymlink replaces the symlink at absPath with one pointing at
// target, via unlink+symlink (not atomic; matches POSIX `ln -sf`).
func updateSymlink(absPath, target string) error {
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return wrapf(KindIO, "update symlink", absPath, "remove: %w", err)
	}
	if err := os.Symlink(target, absPath); err != nil {
		return wrapf(KindIO, "update symlink", absPath, "symlink: %w", err)
	}
	return nil
}

// MergeMixed handles a merge where exactly one side is a symlink and the
// other is (or was) a regular file: the link target is copied into a
// temp buffer and the line-based merger runs against it like any other
// regular-file content.
func MergeMixed(absPath string, ancestorContent, derivedContent []byte, ancestorCommitID, derivedCommitID string) (MergeResult, error) {
	return MergeFile(absPath, ancestorContent, derivedContent, ancestorCommitID, derivedCommitID)
}
