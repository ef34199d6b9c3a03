package worktree

import "github.com/odvcencio/got/pkg/object"

// PatchFunc optionally transforms the working file's full content into
// the content that should actually be staged, implementing hunk
// selection. A nil PatchFunc stages the file unchanged.
type PatchFunc func(path string, content []byte) ([]byte, error)

// CheckStageOk rejects CONFLICT, any status outside {ADD, MODIFY,
// DELETE}, and out-of-date entries before StagePath runs.
func CheckStageOk(store objectStore, headResolver commitTreeResolver, wt *Worktree, path string, head object.ObjectID) error {
	entry, ok := wt.Index().EntryGet(path)
	if !ok {
		return newErr(KindNoTreeEntry, "stage", path, nil)
	}
	absPath := joinOSPath(wt.RootPath, path)
	status, _, err := GetFileStatus(entry, store, absPath)
	if err != nil {
		return err
	}
	if status == StatusConflict {
		return newErr(KindStageConflict, "stage", path, nil)
	}
	switch status {
	case StatusAdd, StatusModify, StatusDelete:
	default:
		return newErr(KindStageNoChange, "stage", path, nil)
	}

	ood, err := CheckOutOfDate(headResolver, path, entry.BlobID, entry.CommitID, head, status == StatusAdd)
	if err != nil {
		return err
	}
	if ood {
		return newErr(KindStageOutOfDate, "stage", path, nil)
	}
	return nil
}

// StagePath creates a blob from the working file (optionally patched)
// and records it as the path's staged change.
func StagePath(wt *Worktree, store objectStore, path string, patch PatchFunc) error {
	entry, ok := wt.Index().EntryGet(path)
	if !ok {
		return newErr(KindNoTreeEntry, "stage", path, nil)
	}
	absPath := joinOSPath(wt.RootPath, path)

	status, _, err := GetFileStatus(entry, store, absPath)
	if err != nil {
		return err
	}
	if status == StatusDelete {
		entry.Stage = StageDelete
		entry.StagedBlobID = object.ObjectID{}
		return nil
	}

	content, err := readFileContent(absPath, entry.FileType)
	if err != nil {
		return err
	}
	if patch != nil {
		content, err = patch(path, content)
		if err != nil {
			return err
		}
	}

	id, err := store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return wrapf(KindIO, "stage", path, "write blob: %w", err)
	}

	entry.StagedBlobID = id
	entry.StagedFileType = entry.FileType
	if status == StatusAdd {
		entry.Stage = StageAdd
	} else {
		entry.Stage = StageModify
	}
	return wt.SyncFileIndex()
}

// UnstagePath reverses StagePath: ADD clears the stage outright; DELETE
// clears the stage and lets the next status walk re-examine disk state;
// MODIFY three-way merges the base blob against the staged blob over
// the working file.
func UnstagePath(wt *Worktree, store objectStore, path string, patch PatchFunc) error {
	entry, ok := wt.Index().EntryGet(path)
	if !ok {
		return newErr(KindNoTreeEntry, "unstage", path, nil)
	}
	if entry.Stage == StageNone {
		return newErr(KindFileNotStaged, "unstage", path, nil)
	}

	switch entry.Stage {
	case StageAdd:
		entry.Stage = StageNone
		entry.StagedBlobID = object.ObjectID{}
	case StageDelete:
		entry.Stage = StageNone
		entry.StagedBlobID = object.ObjectID{}
	case StageModify:
		absPath := joinOSPath(wt.RootPath, path)
		baseR, err := store.ReadBlockReader(entry.BlobID)
		if err != nil {
			return wrapf(KindNoObj, "unstage", path, "read base blob: %w", err)
		}
		baseContent, err := readAllClose(baseR)
		if err != nil {
			return err
		}
		stagedR, err := store.ReadBlockReader(entry.StagedBlobID)
		if err != nil {
			return wrapf(KindNoObj, "unstage", path, "read staged blob: %w", err)
		}
		stagedContent, err := readAllClose(stagedR)
		if err != nil {
			return err
		}
		if patch != nil {
			stagedContent, err = patch(path, stagedContent)
			if err != nil {
				return err
			}
		}
		if _, err := MergeFile(absPath, baseContent, stagedContent, entry.CommitID.String(), ""); err != nil {
			return err
		}
		entry.Stage = StageNone
		entry.StagedBlobID = object.ObjectID{}
	}

	return wt.SyncFileIndex()
}
