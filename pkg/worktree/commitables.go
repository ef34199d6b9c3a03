package worktree

import (
	"fmt"
	"os"

	"github.com/odvcencio/got/pkg/object"
)

// CollectCommitables walks paths (every tracked path when paths is empty)
// and builds one Commitable per entry whose status is committable,
// the status-driven classification a caller performs before invoking
// CommitWorktree. Staged entries report their staged status; unstaged
// entries report their live on-disk status.
func CollectCommitables(wt *Worktree, store objectStore, paths []string) ([]*Commitable, error) {
	var want map[string]bool
	if len(paths) > 0 {
		want = make(map[string]bool, len(paths))
		for _, p := range paths {
			want[p] = true
		}
	}

	var out []*Commitable
	err := wt.Index().ForEachEntrySafe(func(e *Entry) error {
		if want != nil && !want[e.Path] {
			return nil
		}

		absPath := joinOSPath(wt.RootPath, e.Path)
		status, info, err := GetFileStatus(e, store, absPath)
		if err != nil {
			return err
		}
		if status == StatusConflict {
			return newErr(KindCommitConflict, "commit", e.Path, fmt.Errorf("cannot commit file in conflicted status"))
		}

		// The blob for an unstaged change is read from disk, so the
		// commitable's file type follows what is actually there, not a
		// stale index record from before a type change.
		fileType := e.FileType
		if info != nil {
			if info.Mode()&os.ModeSymlink != 0 {
				fileType = FileTypeSymlink
			} else if fileType == FileTypeSymlink {
				fileType = FileTypeRegular
			}
		}

		staged := StatusNoChange
		switch e.Stage {
		case StageAdd:
			staged = StatusAdd
		case StageModify:
			staged = StatusModify
		case StageDelete:
			staged = StatusDelete
		}

		effectiveStatus := status
		if staged != StatusNoChange {
			effectiveStatus = staged
		}

		switch effectiveStatus {
		case StatusAdd, StatusModify, StatusModeChange, StatusDelete:
		default:
			return nil
		}

		c := &Commitable{
			Path:         e.Path,
			OnDiskPath:   absPath,
			Status:       status,
			StagedStatus: staged,
			Mode:         commitableMode(e),
			FileType:     fileType,
			BaseBlobID:   e.BlobID,
			StagedBlobID: e.StagedBlobID,
			BaseCommitID: e.CommitID,
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// commitableMode derives the tree-entry mode a commitable's new blob
// should carry, preferring the staged file type once a path has a
// durable staged change recorded.
func commitableMode(e *Entry) object.FileMode {
	fileType := e.FileType
	if e.Stage == StageAdd || e.Stage == StageModify {
		fileType = e.StagedFileType
	}
	switch fileType {
	case FileTypeSymlink, FileTypeBadSymlink:
		return object.ModeSymlink
	}
	if e.IsExecutable() {
		return object.ModeExecutable
	}
	return object.ModeFile
}
