package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/got/pkg/object"
)

// errAlreadyTracked is the inner error of the FILE_STAGED error
// ScheduleAdd returns for a path already in the index.
var errAlreadyTracked = fmt.Errorf("path is already tracked")

// ResolvePath maps an absolute or CWD-relative on-disk path to its
// worktree-relative path (the form Entry.Path and the index use) and its
// in-repository path (worktree-relative plus PathPrefix). Paths outside
// the worktree root are rejected.
func (wt *Worktree) ResolvePath(path string) (wtRelPath, repoRelPath string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", wrapf(KindBadPath, "resolve path", path, "%w", err)
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(wt.RootPath)

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", "", wrapf(KindBadPath, "resolve path", path, "%w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", newErr(KindBadPath, "resolve path", path, fmt.Errorf("outside worktree root"))
	}
	if rel == "." {
		rel = ""
	}
	rel = filepath.ToSlash(rel)

	repoRel := rel
	if wt.PathPrefix != "" {
		prefix := strings.Trim(filepath.ToSlash(wt.PathPrefix), "/")
		if rel == "" {
			repoRel = prefix
		} else {
			repoRel = prefix + "/" + rel
		}
	}
	return rel, repoRel, nil
}

// PathInfo reports a tracked path's worktree metadata without performing
// a full status walk: its base blob/commit ids, pending stage, and
// whether it is currently recorded as missing from disk.
type PathInfo struct {
	Path         string
	Tracked      bool
	BlobID       object.ObjectID
	CommitID     object.ObjectID
	Stage        StageTag
	StagedBlobID object.ObjectID
	NoFileOnDisk bool
}

// PathInfo looks up path's current index metadata. Tracked is false and
// the remaining fields are zero when the path is not in the index.
func (wt *Worktree) PathInfo(path string) (PathInfo, error) {
	wtRelPath, _, err := wt.ResolvePath(path)
	if err != nil {
		return PathInfo{}, err
	}

	entry, ok := wt.Index().EntryGet(wtRelPath)
	if !ok {
		return PathInfo{Path: wtRelPath}, nil
	}
	return PathInfo{
		Path:         wtRelPath,
		Tracked:      true,
		BlobID:       entry.BlobID,
		CommitID:     entry.CommitID,
		Stage:        entry.Stage,
		StagedBlobID: entry.StagedBlobID,
		NoFileOnDisk: entry.NoFileOnDisk,
	}, nil
}

// ScheduleDelete marks a tracked path for deletion without touching the
// working copy, the index-only half of "rm --cached": a later commit
// picks it up via its DELETE status, while StagePath directly (without
// this call) covers the on-disk-already-removed case by observing the
// same status from a status walk.
func (wt *Worktree) ScheduleDelete(path string) error {
	wtRelPath, _, err := wt.ResolvePath(path)
	if err != nil {
		return err
	}

	entry, ok := wt.Index().EntryGet(wtRelPath)
	if !ok {
		return newErr(KindNoTreeEntry, "schedule delete", wtRelPath, nil)
	}

	entry.Stage = StageDelete
	entry.StagedBlobID = object.ObjectID{}
	entry.NoFileOnDisk = true
	return wt.SyncFileIndex()
}

// ScheduleAdd tracks a previously untracked on-disk path: it allocates a
// fresh index entry, blobs the current file content, and marks it staged
// for addition so the next stage/commit picks the path up as a
// committable.
func (wt *Worktree) ScheduleAdd(path string, store objectStore) error {
	wtRelPath, _, err := wt.ResolvePath(path)
	if err != nil {
		return err
	}

	if _, ok := wt.Index().EntryGet(wtRelPath); ok {
		return newErr(KindFileStaged, "schedule add", wtRelPath, errAlreadyTracked)
	}

	absPath := joinOSPath(wt.RootPath, wtRelPath)
	entry := EntryAlloc(wtRelPath)
	if err := entry.EntryUpdate(absPath, object.ObjectID{}, object.ObjectID{}, true); err != nil {
		return wrapf(KindIO, "schedule add", absPath, "%w", err)
	}

	content, err := readFileContent(absPath, entry.FileType)
	if err != nil {
		return err
	}
	blobID, err := store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return wrapf(KindIO, "schedule add", wtRelPath, "write blob: %w", err)
	}

	entry.Stage = StageAdd
	entry.StagedBlobID = blobID
	entry.StagedFileType = entry.FileType

	wt.Index().EntryAdd(entry)
	return wt.SyncFileIndex()
}

// readFileContent reads the current content a new blob should carry for
// path: the link target string for a symlink, the raw bytes otherwise.
func readFileContent(absPath string, fileType FileType) ([]byte, error) {
	if fileType == FileTypeSymlink {
		target, err := os.Readlink(absPath)
		if err != nil {
			return nil, wrapf(KindIO, "read file content", absPath, "readlink: %w", err)
		}
		return []byte(target), nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, wrapf(KindIO, "read file content", absPath, "%w", err)
	}
	return data, nil
}
