package worktree

import (
	"bytes"
	"io"
	"os"
	"syscall"

	"github.com/odvcencio/got/pkg/object"
)

// Status is a single status code reported for one path by the status
// walker.
type Status uint8

const (
	StatusNoChange Status = iota
	StatusAdd
	StatusExists
	StatusModify
	StatusModeChange
	StatusDelete
	StatusConflict
	StatusMerge
	StatusUpdate
	StatusRevert
	StatusMissing
	StatusUnversioned
	StatusObstructed
	StatusBadSymlink
	StatusBumpBase
	StatusBaseRefErr
	StatusCannotDelete
	StatusCannotUpdate
	StatusNonexistent
)

func (s Status) String() string {
	switch s {
	case StatusNoChange:
		return "no-change"
	case StatusAdd:
		return "add"
	case StatusExists:
		return "exists"
	case StatusModify:
		return "modify"
	case StatusModeChange:
		return "mode-change"
	case StatusDelete:
		return "delete"
	case StatusConflict:
		return "conflict"
	case StatusMerge:
		return "merge"
	case StatusUpdate:
		return "update"
	case StatusRevert:
		return "revert"
	case StatusMissing:
		return "missing"
	case StatusUnversioned:
		return "unversioned"
	case StatusObstructed:
		return "obstructed"
	case StatusBadSymlink:
		return "bad-symlink"
	case StatusBumpBase:
		return "bump-base"
	case StatusBaseRefErr:
		return "base-ref-err"
	case StatusCannotDelete:
		return "cannot-delete"
	case StatusCannotUpdate:
		return "cannot-update"
	case StatusNonexistent:
		return "nonexistent"
	default:
		return "unknown"
	}
}

// blobReader is the subset of *object.Store the status walker needs to
// read base/staged blob content for comparison.
type blobReader interface {
	ReadBlockReader(id object.ObjectID) (io.ReadCloser, error)
}

// GetFileStatus computes the status of one path against its index entry
// (if any), following the nine-step algorithm: missing-on-disk,
// obstruction, untracked, pending-delete, pending-add, the cheap
// timestamp fingerprint, type mismatch, a full content compare, and
// finally a conflict-marker upgrade. entry may be nil for an untracked
// path. absPath is the on-disk path to lstat.
func GetFileStatus(entry *Entry, store blobReader, absPath string) (Status, os.FileInfo, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return StatusNonexistent, nil, wrapf(KindIO, "status", absPath, "lstat: %w", err)
		}
		if entry == nil {
			return StatusNonexistent, nil, nil
		}
		if entry.HasFileOnDisk() {
			return StatusMissing, nil, nil
		}
		return StatusDelete, nil, nil
	}

	if info.Mode()&(os.ModeSymlink) == 0 && !info.Mode().IsRegular() {
		return StatusObstructed, info, nil
	}

	if entry == nil {
		return StatusNoChange, info, nil
	}

	if entry.NoFileOnDisk {
		return StatusDelete, info, nil
	}

	effectiveBlob := entry.BlobID
	effectiveType := entry.FileType
	if entry.Stage == StageAdd || entry.Stage == StageModify {
		effectiveBlob = entry.StagedBlobID
		effectiveType = entry.StagedFileType
	}
	if effectiveBlob.IsZero() && entry.Stage != StageAdd {
		return StatusAdd, info, nil
	}

	if !statInfoDiffers(entry, info) {
		return StatusNoChange, info, nil
	}

	onDiskIsSymlink := info.Mode()&os.ModeSymlink != 0
	wantSymlink := effectiveType == FileTypeSymlink || effectiveType == FileTypeBadSymlink
	if onDiskIsSymlink != wantSymlink {
		return StatusModify, info, nil
	}

	status, err := compareContent(store, effectiveBlob, absPath, onDiskIsSymlink, entry, info)
	if err != nil {
		return StatusNonexistent, info, err
	}
	if status != StatusModify {
		return status, info, nil
	}

	if looksLikeConflict(absPath) {
		return StatusConflict, info, nil
	}
	return StatusModify, info, nil
}

// statInfoDiffers compares ctime sec+nsec, mtime sec+nsec, size low-32,
// and the executable bit of the mode. It is a fast, non-authoritative
// fingerprint: a false result skips the content compare entirely, a true
// result only means a content compare is warranted.
func statInfoDiffers(entry *Entry, info os.FileInfo) bool {
	if entry.SizeLow32 != uint32(info.Size()) {
		return true
	}
	wantExec := entry.IsExecutable()
	gotExec := info.Mode().Perm()&0o111 != 0
	if wantExec != gotExec {
		return true
	}

	mt := info.ModTime()
	if entry.MtimeSec != mt.Unix() || entry.MtimeNsec != int64(mt.Nanosecond()) {
		return true
	}

	// Compare the recorded ctime against the live ctime from the raw
	// stat, the same source EntryUpdate records it from; on platforms
	// without one, both sides fall back to mtime.
	ctSec, ctNsec := mt.Unix(), int64(mt.Nanosecond())
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		ctSec, ctNsec = sys.Ctim.Sec, int64(sys.Ctim.Nsec)
	}
	if entry.CtimeSec != ctSec || entry.CtimeNsec != ctNsec {
		return true
	}
	return false
}

func compareContent(store blobReader, blobID object.ObjectID, absPath string, isSymlink bool, entry *Entry, info os.FileInfo) (Status, error) {
	if isSymlink {
		target, err := os.Readlink(absPath)
		if err != nil {
			return StatusNonexistent, wrapf(KindIO, "status", absPath, "readlink: %w", err)
		}
		r, err := store.ReadBlockReader(blobID)
		if err != nil {
			return StatusNonexistent, wrapf(KindNoObj, "status", absPath, "read blob: %w", err)
		}
		defer r.Close()
		want, err := io.ReadAll(r)
		if err != nil {
			return StatusNonexistent, wrapf(KindIO, "status", absPath, "read blob: %w", err)
		}
		if string(want) != target {
			return StatusModify, nil
		}
		return StatusNoChange, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return StatusNonexistent, wrapf(KindIO, "status", absPath, "open: %w", err)
	}
	defer f.Close()

	r, err := store.ReadBlockReader(blobID)
	if err != nil {
		return StatusNonexistent, wrapf(KindNoObj, "status", absPath, "read blob: %w", err)
	}
	defer r.Close()

	same, err := streamEqual(f, r)
	if err != nil {
		return StatusNonexistent, wrapf(KindIO, "status", absPath, "compare: %w", err)
	}
	if !same {
		return StatusModify, nil
	}

	wantExec := entry.IsExecutable()
	gotExec := info.Mode().Perm()&0o111 != 0
	if wantExec != gotExec {
		return StatusModeChange, nil
	}
	return StatusNoChange, nil
}

// streamEqual compares a and b in object.BlockSize blocks.
func streamEqual(a, b io.Reader) (bool, error) {
	bufA := make([]byte, object.BlockSize)
	bufB := make([]byte, object.BlockSize)
	for {
		nA, errA := io.ReadFull(a, bufA)
		nB, errB := io.ReadFull(b, bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if doneA != doneB {
			return false, nil
		}
		if doneA {
			return true, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

var conflictMarkers = [3][]byte{
	[]byte("<<<<<<<"),
	[]byte("======="),
	[]byte(">>>>>>>"),
}

// looksLikeConflict scans a file for a complete, in-order triple of
// conflict markers at line starts.
func looksLikeConflict(absPath string) bool {
	f, err := os.Open(absPath)
	if err != nil {
		return false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	next := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if next >= len(conflictMarkers) {
			break
		}
		if bytes.HasPrefix(line, conflictMarkers[next]) {
			next++
		}
	}
	return next == len(conflictMarkers)
}

// SyncTimestamps rewrites entry's timestamp fingerprint from info when a
// full content compare found NO_CHANGE despite statInfoDiffers reporting
// a possible change, so future walks take the fast path.
func SyncTimestamps(entry *Entry, info os.FileInfo) {
	entry.SizeLow32 = uint32(info.Size())
	mt := info.ModTime()
	entry.MtimeSec, entry.MtimeNsec = mt.Unix(), int64(mt.Nanosecond())
	entry.CtimeSec, entry.CtimeNsec = mt.Unix(), int64(mt.Nanosecond())
}
