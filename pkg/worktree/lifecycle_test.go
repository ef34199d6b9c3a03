package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/got/pkg/object"
)

// Test: Init populates the meta directory with exactly the expected set of
// files and an in-memory Worktree matching them.
func TestInit_CreatesExactMetaFiles(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()
	headCommit := mustID(t, "4444444444444444444444444444444444444444")

	wt, err := Init(root, repoPath, "/", "refs/heads/main", headCommit)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	entries, err := os.ReadDir(wt.MetaDir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", wt.MetaDir, err)
	}
	got := map[string]bool{}
	for _, e := range entries {
		got[e.Name()] = true
	}
	want := []string{"lock", "file-index", "HEAD", "base-commit", "repository", "path-prefix", "uuid", "format"}
	for _, name := range want {
		if !got[name] {
			t.Errorf("meta directory missing %q, has %v", name, got)
		}
	}
	if len(got) != len(want) {
		t.Errorf("meta directory has %d files, want exactly %d: %v", len(got), len(want), got)
	}

	if wt.BaseCommitID != headCommit {
		t.Errorf("BaseCommitID = %v, want %v", wt.BaseCommitID, headCommit)
	}
	if wt.HeadRefName != "refs/heads/main" {
		t.Errorf("HeadRefName = %q, want refs/heads/main", wt.HeadRefName)
	}
	if wt.UUID == "" {
		t.Error("UUID is empty")
	}
	if wt.Index() == nil || wt.Index().Len() != 0 {
		t.Error("expected a fresh, empty file index")
	}
}

// Test: Open round-trips everything Init wrote, including after the
// in-process Worktree is discarded and reopened from disk.
func TestOpen_RoundTripsInitState(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()
	headCommit := mustID(t, "5555555555555555555555555555555555555555")

	wt, err := Init(root, repoPath, "/sub", "refs/heads/feature", headCommit)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	wantUUID := wt.UUID
	if err := wt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.UUID != wantUUID {
		t.Errorf("UUID = %q, want %q", reopened.UUID, wantUUID)
	}
	if reopened.BaseCommitID != headCommit {
		t.Errorf("BaseCommitID = %v, want %v", reopened.BaseCommitID, headCommit)
	}
	if reopened.HeadRefName != "refs/heads/feature" {
		t.Errorf("HeadRefName = %q, want refs/heads/feature", reopened.HeadRefName)
	}
	if reopened.PathPrefix != "/sub" {
		t.Errorf("PathPrefix = %q, want /sub", reopened.PathPrefix)
	}
	absRepo, _ := filepath.Abs(repoPath)
	if reopened.RepoPath != absRepo {
		t.Errorf("RepoPath = %q, want %q", reopened.RepoPath, absRepo)
	}
}

// Test: Open finds the meta directory from a nested subdirectory of the
// work tree root.
func TestOpen_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	wt, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	wt.Close()

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	reopened, err := Open(sub)
	if err != nil {
		t.Fatalf("Open from subdirectory: %v", err)
	}
	defer reopened.Close()
	if reopened.RootPath != root {
		t.Errorf("RootPath = %q, want %q", reopened.RootPath, root)
	}
}

// Test: opening a path with no ancestor meta directory fails with
// KindNotWorktree.
func TestOpen_NoMetaDir(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	if err == nil {
		t.Fatal("Open in non-worktree directory should fail")
	}
	if ErrKind(err) != KindNotWorktree {
		t.Errorf("ErrKind = %v, want KindNotWorktree", ErrKind(err))
	}
}

// Test: a second Open while the first is still held reports KindWorktreeBusy.
func TestOpen_AlreadyLocked_Busy(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	wt, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	held, err := Open(root)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer held.Close()
	_ = wt

	_, err = Open(root)
	if err == nil {
		t.Fatal("second concurrent Open should fail")
	}
	if ErrKind(err) != KindWorktreeBusy {
		t.Errorf("ErrKind = %v, want KindWorktreeBusy", ErrKind(err))
	}
}

// Test: DemoteLock followed by PromoteLock succeeds and the lock is still
// held afterward (a concurrent Open still reports busy).
func TestLock_DemoteThenPromote(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	wt, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	held, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer held.Close()
	_ = wt

	if err := held.DemoteLock(); err != nil {
		t.Fatalf("DemoteLock: %v", err)
	}
	if err := held.PromoteLock(); err != nil {
		t.Fatalf("PromoteLock: %v", err)
	}
	if _, err := Open(root); ErrKind(err) != KindWorktreeBusy {
		t.Errorf("Open after PromoteLock: ErrKind = %v, want KindWorktreeBusy", ErrKind(err))
	}
}

// Test: SetBaseCommit and SetHeadRef persist across a close/reopen cycle.
func TestSetBaseCommit_SetHeadRef_Persist(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	wt, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	newBase := mustID(t, "6666666666666666666666666666666666666666")
	if err := wt.SetBaseCommit(newBase); err != nil {
		t.Fatalf("SetBaseCommit: %v", err)
	}
	if err := wt.SetHeadRef("refs/heads/other"); err != nil {
		t.Fatalf("SetHeadRef: %v", err)
	}
	if wt.BaseCommitID != newBase || wt.HeadRefName != "refs/heads/other" {
		t.Fatal("in-memory state not updated")
	}
	if err := wt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if reopened.BaseCommitID != newBase {
		t.Errorf("BaseCommitID = %v, want %v", reopened.BaseCommitID, newBase)
	}
	if reopened.HeadRefName != "refs/heads/other" {
		t.Errorf("HeadRefName = %q, want refs/heads/other", reopened.HeadRefName)
	}
}

// Test: SyncFileIndex persists index mutations across a close/reopen cycle.
func TestSyncFileIndex_Persists(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	wt, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	wt.Index().EntryAdd(EntryAlloc("tracked.txt"))
	if err := wt.SyncFileIndex(); err != nil {
		t.Fatalf("SyncFileIndex: %v", err)
	}
	if err := wt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if reopened.Index().Len() != 1 {
		t.Fatalf("Index().Len() = %d, want 1", reopened.Index().Len())
	}
	if _, ok := reopened.Index().EntryGet("tracked.txt"); !ok {
		t.Error("tracked.txt missing after reopen")
	}
}

// Test: a second Init over an existing meta directory fails with EEXIST
// and leaves the pre-existing file untouched.
func TestInit_RefusesToOverwrite(t *testing.T) {
	root := t.TempDir()
	repoPath := t.TempDir()

	metaDir := filepath.Join(root, MetaDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	preexisting := filepath.Join(metaDir, "file-index")
	if err := os.WriteFile(preexisting, []byte("sentinel"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Init(root, repoPath, "/", "refs/heads/main", object.ObjectID{})
	if err == nil {
		t.Fatal("second Init over an existing file-index should fail")
	}
	if !errors.Is(err, os.ErrExist) {
		t.Errorf("expected an EEXIST-derived error, got %v", err)
	}

	data, readErr := os.ReadFile(preexisting)
	if readErr != nil || string(data) != "sentinel" {
		t.Errorf("pre-existing file-index was modified: %q, %v", data, readErr)
	}
}

// Test: Init refuses to place the work tree at the same path as the
// repository it tracks.
func TestInit_SamePathAsRepo_Error(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir, dir, "/", "refs/heads/main", object.ObjectID{})
	if err == nil {
		t.Fatal("Init with worktree path == repo path should fail")
	}
	if ErrKind(err) != KindWorktreeRepo {
		t.Errorf("ErrKind = %v, want KindWorktreeRepo", ErrKind(err))
	}
}

// Test: a relative repository path in the meta directory is rejected at
// open time rather than producing bad joins later.
func TestOpen_RelativeRepositoryPath_Rejected(t *testing.T) {
	root := t.TempDir()
	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := wt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	repoFile := filepath.Join(root, MetaDirName, "repository")
	if err := os.WriteFile(repoFile, []byte("relative/repo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Open(root)
	if err == nil {
		t.Fatal("Open with a relative repository path should fail")
	}
	if ErrKind(err) != KindNotAbsPath {
		t.Errorf("ErrKind = %v, want KindNotAbsPath", ErrKind(err))
	}
}
