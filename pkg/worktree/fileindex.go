package worktree

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"github.com/odvcencio/got/pkg/object"
)

// FileType classifies what an index entry's on-disk path is expected to be.
type FileType uint8

const (
	FileTypeRegular FileType = iota
	FileTypeSymlink
	FileTypeBadSymlink
)

// StageTag records whether a path has a durable staged change pending the
// next commit.
type StageTag uint8

const (
	StageNone StageTag = iota
	StageAdd
	StageModify
	StageDelete
)

// Entry is one tracked path's persistent metadata: the base version used
// for change detection, and an optional staged version.
type Entry struct {
	Path string

	BlobID   object.ObjectID
	CommitID object.ObjectID

	MtimeSec, MtimeNsec int64
	CtimeSec, CtimeNsec int64
	SizeLow32           uint32
	FileType            FileType
	Perm                uint32 // low 12 bits of the POSIX mode

	Stage          StageTag
	StagedBlobID   object.ObjectID
	StagedFileType FileType

	// Transient flags, not round-tripped through entry_alloc but
	// persisted in the index so a re-open observes the same state.
	NoFileOnDisk bool
	removed      bool
}

func (e *Entry) HasBlob() bool   { return !e.BlobID.IsZero() }
func (e *Entry) HasCommit() bool { return !e.CommitID.IsZero() }
func (e *Entry) HasFileOnDisk() bool {
	return !e.NoFileOnDisk
}

// IsExecutable reports whether the tracked permission bits carry the
// owner-executable bit.
func (e *Entry) IsExecutable() bool { return e.Perm&0o111 != 0 }

// EntryAlloc constructs a bare entry for path with no base version yet.
func EntryAlloc(path string) *Entry {
	return &Entry{Path: path}
}

// EntryUpdate refreshes size/mtime/ctime/mode from lstat(onDiskPath) and
// records the given blob/commit ids. When updateTimestamps is false, only
// the identifiers are overwritten, so a later status walk still detects
// the local modification via the stale timestamp fingerprint.
func (e *Entry) EntryUpdate(onDiskPath string, blobID, commitID object.ObjectID, updateTimestamps bool) error {
	fi, err := os.Lstat(onDiskPath)
	if err != nil {
		return fmt.Errorf("entry update: lstat %s: %w", onDiskPath, err)
	}

	if !blobID.IsZero() {
		e.BlobID = blobID
	}
	if !commitID.IsZero() {
		e.CommitID = commitID
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		e.FileType = FileTypeSymlink
	} else {
		e.FileType = FileTypeRegular
	}
	e.Perm = uint32(fi.Mode().Perm())
	e.NoFileOnDisk = false

	if !updateTimestamps {
		return nil
	}

	e.SizeLow32 = uint32(fi.Size())
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		e.MtimeSec, e.MtimeNsec = sys.Mtim.Sec, int64(sys.Mtim.Nsec)
		e.CtimeSec, e.CtimeNsec = sys.Ctim.Sec, int64(sys.Ctim.Nsec)
	} else {
		mt := fi.ModTime()
		e.MtimeSec, e.MtimeNsec = mt.Unix(), int64(mt.Nanosecond())
		e.CtimeSec, e.CtimeNsec = e.MtimeSec, e.MtimeNsec
	}
	return nil
}

// MarkDeletedFromDisk flags the entry as having no corresponding on-disk
// file; the status walker reports DELETE, not MISSING, for such entries.
func (e *Entry) MarkDeletedFromDisk() { e.NoFileOnDisk = true }

// FileIndex is the persistent per-path metadata store for one work tree.
// It is process-private; callers must not share one across goroutines.
type FileIndex struct {
	byPath map[string]*Entry
	order  []string // sorted path order, also the serialization order
}

// Alloc returns a fresh, empty file index.
func Alloc() *FileIndex {
	return &FileIndex{byPath: make(map[string]*Entry)}
}

// EntryGet looks up the entry for path, if tracked.
func (fi *FileIndex) EntryGet(path string) (*Entry, bool) {
	e, ok := fi.byPath[path]
	return e, ok
}

// EntryAdd inserts e, keeping the index in sorted path order. Adding a
// path that already exists overwrites the previous entry in place.
func (fi *FileIndex) EntryAdd(e *Entry) {
	if _, exists := fi.byPath[e.Path]; !exists {
		i := sort.SearchStrings(fi.order, e.Path)
		fi.order = append(fi.order, "")
		copy(fi.order[i+1:], fi.order[i:])
		fi.order[i] = e.Path
	}
	fi.byPath[e.Path] = e
}

// EntryRemove deletes e from the index.
func (fi *FileIndex) EntryRemove(e *Entry) {
	delete(fi.byPath, e.Path)
	i := sort.SearchStrings(fi.order, e.Path)
	if i < len(fi.order) && fi.order[i] == e.Path {
		fi.order = append(fi.order[:i], fi.order[i+1:]...)
	}
}

// Len reports the number of tracked paths.
func (fi *FileIndex) Len() int { return len(fi.order) }

// ForEachEntrySafe iterates entries in stable path order, tolerating
// removal of the current entry by cb.
func (fi *FileIndex) ForEachEntrySafe(cb func(*Entry) error) error {
	paths := make([]string, len(fi.order))
	copy(paths, fi.order)
	for _, p := range paths {
		e, ok := fi.byPath[p]
		if !ok {
			continue // removed by a previous callback invocation
		}
		if err := cb(e); err != nil {
			return err
		}
	}
	return nil
}

const (
	fileIndexMagic   = "GOTFIDX1"
	fileIndexVersion = uint32(1)
)

// Read populates fi from a serialized stream. Truncation, a bad
// magic, or a checksum mismatch surface as a WORKTREE_META error.
//
// The whole stream is buffered up front so the trailing checksum can be
// split off before anything is hashed or parsed: a bufio.Reader wrapped
// directly around a TeeReader would over-read past the logical
// entries/checksum boundary on its first fill (one Read on a small
// os.File returns the whole remaining file), feeding the checksum's own
// bytes into the hash it is being compared against.
func Read(r io.Reader) (*FileIndex, error) {
	fi := Alloc()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("read stream: %w", err))
	}
	if len(data) == 0 {
		return fi, nil // a freshly-init'd, empty index has no bytes at all
	}
	if len(data) < sha1.Size {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("truncated checksum"))
	}

	body, want := data[:len(data)-sha1.Size], data[len(data)-sha1.Size:]
	sum := sha1.Sum(body)
	if !bytes.Equal(sum[:], want) {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("checksum mismatch"))
	}

	br := bytes.NewReader(body)

	magic := make([]byte, len(fileIndexMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("truncated magic: %w", err))
	}
	if string(magic) != fileIndexMagic {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("bad magic %q", magic))
	}

	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("truncated version: %w", err))
	}
	if version != fileIndexVersion {
		return nil, newErr(KindWorktreeVers, "read fileindex", "", fmt.Errorf("unsupported version %d", version))
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, newErr(KindWorktreeMeta, "read fileindex", "", fmt.Errorf("truncated count: %w", err))
	}

	for i := uint32(0); i < count; i++ {
		e, err := readEntry(br)
		if err != nil {
			return nil, newErr(KindWorktreeMeta, "read fileindex", "", err)
		}
		fi.EntryAdd(e)
	}

	return fi, nil
}

func readEntry(r io.Reader) (*Entry, error) {
	var hdr struct {
		CtimeSec, CtimeNsec int64
		MtimeSec, MtimeNsec int64
		SizeLow32           uint32
		FileType            uint8
		Perm                uint32
		Stage               uint8
		Flags               uint8
		PathLen             uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("entry header: %w", err)
	}

	pathBytes := make([]byte, hdr.PathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return nil, fmt.Errorf("entry path: %w", err)
	}

	e := &Entry{
		Path:         string(pathBytes),
		CtimeSec:     hdr.CtimeSec,
		CtimeNsec:    hdr.CtimeNsec,
		MtimeSec:     hdr.MtimeSec,
		MtimeNsec:    hdr.MtimeNsec,
		SizeLow32:    hdr.SizeLow32,
		FileType:     FileType(hdr.FileType),
		Perm:         hdr.Perm,
		Stage:        StageTag(hdr.Stage),
		NoFileOnDisk: hdr.Flags&flagNoFileOnDisk != 0,
	}

	if e.Stage != StageNone {
		if _, err := io.ReadFull(r, e.StagedBlobID[:]); err != nil {
			return nil, fmt.Errorf("entry staged blob id: %w", err)
		}
		var stagedType uint8
		if err := binary.Read(r, binary.LittleEndian, &stagedType); err != nil {
			return nil, fmt.Errorf("entry staged file type: %w", err)
		}
		e.StagedFileType = FileType(stagedType)
	}

	if hdr.Flags&flagHasBlob != 0 {
		if _, err := io.ReadFull(r, e.BlobID[:]); err != nil {
			return nil, fmt.Errorf("entry blob id: %w", err)
		}
		if hdr.Flags&flagHasCommit != 0 {
			if _, err := io.ReadFull(r, e.CommitID[:]); err != nil {
				return nil, fmt.Errorf("entry commit id: %w", err)
			}
		}
	}

	return e, nil
}

const (
	flagHasBlob      uint8 = 1 << 0
	flagHasCommit    uint8 = 1 << 1
	flagNoFileOnDisk uint8 = 1 << 2
)

// Write serializes fi: magic, version, entry count, each entry in
// stable path order, then a SHA-1 checksum of all preceding bytes.
func (fi *FileIndex) Write(w io.Writer) error {
	h := sha1.New()
	mw := io.MultiWriter(w, h)

	if _, err := mw.Write([]byte(fileIndexMagic)); err != nil {
		return newErr(KindIO, "write fileindex", "", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, fileIndexVersion); err != nil {
		return newErr(KindIO, "write fileindex", "", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(len(fi.order))); err != nil {
		return newErr(KindIO, "write fileindex", "", err)
	}

	for _, p := range fi.order {
		e := fi.byPath[p]
		if err := writeEntry(mw, e); err != nil {
			return newErr(KindIO, "write fileindex", p, err)
		}
	}

	if _, err := w.Write(h.Sum(nil)); err != nil {
		return newErr(KindIO, "write fileindex", "", err)
	}
	return nil
}

func writeEntry(w io.Writer, e *Entry) error {
	var flags uint8
	if e.HasBlob() {
		flags |= flagHasBlob
	}
	if e.HasCommit() {
		flags |= flagHasCommit
	}
	if e.NoFileOnDisk {
		flags |= flagNoFileOnDisk
	}

	hdr := struct {
		CtimeSec, CtimeNsec int64
		MtimeSec, MtimeNsec int64
		SizeLow32           uint32
		FileType            uint8
		Perm                uint32
		Stage               uint8
		Flags               uint8
		PathLen             uint16
	}{
		CtimeSec:  e.CtimeSec,
		CtimeNsec: e.CtimeNsec,
		MtimeSec:  e.MtimeSec,
		MtimeNsec: e.MtimeNsec,
		SizeLow32: e.SizeLow32,
		FileType:  uint8(e.FileType),
		Perm:      e.Perm,
		Stage:     uint8(e.Stage),
		Flags:     flags,
		PathLen:   uint16(len(e.Path)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.Path)); err != nil {
		return err
	}

	if e.Stage != StageNone {
		if _, err := w.Write(e.StagedBlobID[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(e.StagedFileType)); err != nil {
			return err
		}
	}

	if e.HasBlob() {
		if _, err := w.Write(e.BlobID[:]); err != nil {
			return err
		}
		if e.HasCommit() {
			if _, err := w.Write(e.CommitID[:]); err != nil {
				return err
			}
		}
	}
	return nil
}
