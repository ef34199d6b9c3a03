package worktree

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/got/pkg/object"
)

const formatVersion = 1

// MetaDirName is the worktree meta directory's fixed basename, analogous
// to the repository's ".got".
const MetaDirName = ".got-worktree"

// Worktree is one open work tree: its meta directory and the in-memory
// state loaded from it.
type Worktree struct {
	RootPath     string
	MetaDir      string
	RepoPath     string
	PathPrefix   string
	UUID         string
	BaseCommitID object.ObjectID
	HeadRefName  string

	lockFile *os.File
	index    *FileIndex
}

// Index returns the open work tree's file index.
func (wt *Worktree) Index() *FileIndex { return wt.index }

// Init creates a new work tree at path, anchored at prefix inside
// repoPath, with its head ref resolved from headRef (which must name a
// commit). Both path and its meta directory tolerate already existing
// (EEXIST is not an error, matching a re-run after a partial failure).
func Init(path, repoPath, prefix, headRefName string, headCommitID object.ObjectID) (*Worktree, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, wrapf(KindBadPath, "init worktree", path, "abspath: %w", err)
	}
	absRepoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, wrapf(KindBadPath, "init worktree", repoPath, "abspath: %w", err)
	}
	if absPath == absRepoPath {
		return nil, newErr(KindWorktreeRepo, "init worktree", path, fmt.Errorf("worktree path must differ from repository path"))
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, wrapf(KindIO, "init worktree", absPath, "mkdir: %w", err)
	}
	metaDir := filepath.Join(absPath, MetaDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, wrapf(KindIO, "init worktree", metaDir, "mkdir meta: %w", err)
	}

	id, err := newUUID()
	if err != nil {
		return nil, wrapf(KindIO, "init worktree", metaDir, "generate uuid: %w", err)
	}

	// Meta files are created exclusively, in fixed order: a second init
	// over a partially or fully initialized meta directory fails with
	// EEXIST on the first file that survived, leaving it untouched.
	if err := createMetaFile(metaDir, "lock", nil); err != nil {
		return nil, err
	}
	// An empty file-index is written as zero bytes; Read treats that as
	// a fresh index with no entries.
	fi := Alloc()
	if err := createMetaFile(metaDir, "file-index", nil); err != nil {
		return nil, err
	}
	headText := headCommitID.String()
	if headRefName != "" {
		headText = "ref: " + headRefName
	}
	if err := createMetaFile(metaDir, "HEAD", []byte(headText+"\n")); err != nil {
		return nil, err
	}
	if err := createMetaFile(metaDir, "base-commit", []byte(headCommitID.String()+"\n")); err != nil {
		return nil, err
	}
	if err := createMetaFile(metaDir, "repository", []byte(absRepoPath+"\n")); err != nil {
		return nil, err
	}
	prefixAbs := "/" + strings.Trim(prefix, "/")
	if err := createMetaFile(metaDir, "path-prefix", []byte(prefixAbs+"\n")); err != nil {
		return nil, err
	}
	if err := createMetaFile(metaDir, "uuid", []byte(id+"\n")); err != nil {
		return nil, err
	}
	if err := createMetaFile(metaDir, "format", []byte(strconv.Itoa(formatVersion)+"\n")); err != nil {
		return nil, err
	}

	return &Worktree{
		RootPath:     absPath,
		MetaDir:      metaDir,
		RepoPath:     absRepoPath,
		PathPrefix:   prefixAbs,
		UUID:         id,
		BaseCommitID: headCommitID,
		HeadRefName:  headRefName,
		index:        fi,
	}, nil
}

// Open walks up from path until a meta directory is found, acquires the
// exclusive advisory lock on it (converting EWOULDBLOCK into
// WORKTREE_BUSY), and loads all meta files.
func Open(path string) (*Worktree, error) {
	metaDir, rootPath, err := findMetaDir(path)
	if err != nil {
		return nil, err
	}

	lockPath := filepath.Join(metaDir, "lock")
	lf, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrapf(KindWorktreeMeta, "open worktree", lockPath, "open lock: %w", err)
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lf.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, newErr(KindWorktreeBusy, "open worktree", rootPath, err)
		}
		return nil, wrapf(KindIO, "open worktree", lockPath, "flock: %w", err)
	}

	wt := &Worktree{RootPath: rootPath, MetaDir: metaDir, lockFile: lf}

	formatText, err := readMetaFile(metaDir, "format")
	if err != nil {
		lf.Close()
		return nil, err
	}
	version, err := strconv.Atoi(formatText)
	if err != nil {
		lf.Close()
		return nil, newErr(KindWorktreeMeta, "open worktree", metaDir, fmt.Errorf("bad format file: %w", err))
	}
	if version != formatVersion {
		lf.Close()
		return nil, newErr(KindWorktreeVers, "open worktree", metaDir, fmt.Errorf("unsupported worktree format %d", version))
	}

	if wt.UUID, err = readMetaFile(metaDir, "uuid"); err != nil {
		lf.Close()
		return nil, err
	}
	if wt.RepoPath, err = readMetaFile(metaDir, "repository"); err != nil {
		lf.Close()
		return nil, err
	}
	if !filepath.IsAbs(wt.RepoPath) {
		lf.Close()
		return nil, newErr(KindNotAbsPath, "open worktree", metaDir, fmt.Errorf("repository path %q is not absolute", wt.RepoPath))
	}
	if wt.PathPrefix, err = readMetaFile(metaDir, "path-prefix"); err != nil {
		lf.Close()
		return nil, err
	}
	if !strings.HasPrefix(wt.PathPrefix, "/") {
		lf.Close()
		return nil, newErr(KindNotAbsPath, "open worktree", metaDir, fmt.Errorf("path prefix %q is not absolute", wt.PathPrefix))
	}

	baseCommitText, err := readMetaFile(metaDir, "base-commit")
	if err != nil {
		lf.Close()
		return nil, err
	}
	wt.BaseCommitID, err = object.ParseID(baseCommitText)
	if err != nil {
		lf.Close()
		return nil, newErr(KindWorktreeMeta, "open worktree", metaDir, fmt.Errorf("bad base-commit: %w", err))
	}

	headText, err := readMetaFile(metaDir, "HEAD")
	if err != nil {
		lf.Close()
		return nil, err
	}
	wt.HeadRefName = strings.TrimPrefix(headText, "ref: ")

	idxPath := filepath.Join(metaDir, "file-index")
	f, err := os.Open(idxPath)
	if err != nil {
		lf.Close()
		return nil, wrapf(KindWorktreeMeta, "open worktree", idxPath, "open: %w", err)
	}
	fi, err := Read(f)
	f.Close()
	if err != nil {
		lf.Close()
		return nil, err
	}
	wt.index = fi

	return wt, nil
}

// Close releases the worktree lock. Callers must not use wt afterward.
func (wt *Worktree) Close() error {
	if wt.lockFile == nil {
		return nil
	}
	err := wt.lockFile.Close()
	wt.lockFile = nil
	if err != nil {
		return wrapf(KindIO, "close worktree", wt.MetaDir, "close lock: %w", err)
	}
	return nil
}

// DemoteLock converts the held exclusive lock to shared, for the
// duration of status/info reporting operations.
func (wt *Worktree) DemoteLock() error {
	if wt.lockFile == nil {
		return nil
	}
	if err := syscall.Flock(int(wt.lockFile.Fd()), syscall.LOCK_SH); err != nil {
		return wrapf(KindIO, "demote worktree lock", wt.MetaDir, "flock: %w", err)
	}
	return nil
}

// PromoteLock reacquires the exclusive lock after a demoted section.
// Failure here is reported but must never mask an already-returned
// primary error from the caller's state-changing operation.
func (wt *Worktree) PromoteLock() error {
	if wt.lockFile == nil {
		return nil
	}
	if err := syscall.Flock(int(wt.lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return wrapf(KindIO, "promote worktree lock", wt.MetaDir, "flock: %w", err)
	}
	return nil
}

// SyncFileIndex persists wt's in-memory index to the meta directory.
func (wt *Worktree) SyncFileIndex() error {
	return writeFileIndexMeta(wt.MetaDir, wt.index)
}

// SetBaseCommit updates both the in-memory and on-disk base commit id.
func (wt *Worktree) SetBaseCommit(id object.ObjectID) error {
	if err := writeMetaFile(wt.MetaDir, "base-commit", id.String()); err != nil {
		return err
	}
	wt.BaseCommitID = id
	return nil
}

// SetHeadRef updates both the in-memory and on-disk head reference.
func (wt *Worktree) SetHeadRef(refName string) error {
	if err := writeMetaFile(wt.MetaDir, "HEAD", "ref: "+refName); err != nil {
		return err
	}
	wt.HeadRefName = refName
	return nil
}

// newUUID generates a random RFC 4122 version-4 UUID, canonically
// formatted: 16 random bytes with the version and variant nibbles set.
func newUUID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

func findMetaDir(start string) (metaDir, rootPath string, err error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", "", wrapf(KindBadPath, "open worktree", start, "abspath: %w", err)
	}
	dir := abs
	for {
		candidate := filepath.Join(dir, MetaDirName)
		if st, statErr := os.Stat(candidate); statErr == nil && st.IsDir() {
			return candidate, dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", newErr(KindNotWorktree, "open worktree", start, fmt.Errorf("no worktree meta directory found"))
		}
		dir = parent
	}
}

// createMetaFile writes a meta file exclusively; a pre-existing file
// fails with the underlying EEXIST so init never clobbers another
// worktree's state.
func createMetaFile(metaDir, name string, content []byte) error {
	path := filepath.Join(metaDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return wrapf(KindIO, "init worktree", path, "%w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return wrapf(KindIO, "init worktree", path, "write: %w", err)
	}
	if err := f.Close(); err != nil {
		return wrapf(KindIO, "init worktree", path, "close: %w", err)
	}
	return nil
}

func writeMetaFile(metaDir, name, content string) error {
	return writeFileAtomic(filepath.Join(metaDir, name), []byte(content+"\n"), 0o644)
}

func readMetaFile(metaDir, name string) (string, error) {
	path := filepath.Join(metaDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapf(KindWorktreeMeta, "read meta", path, "%w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func writeFileIndexMeta(metaDir string, fi *FileIndex) error {
	path := filepath.Join(metaDir, "file-index")
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-fileindex-*")
	if err != nil {
		return wrapf(KindIO, "write fileindex", path, "create temp: %w", err)
	}
	tmpName := tmp.Name()
	if err := fi.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "write fileindex", path, "close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "write fileindex", path, "rename: %w", err)
	}
	// Let the clock tick past the written index's own timestamp, so a
	// file modified immediately after this sync cannot alias the
	// fingerprint just recorded for it.
	time.Sleep(time.Nanosecond)
	return nil
}
