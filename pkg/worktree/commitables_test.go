package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/got/pkg/object"
)

// Test: CollectCommitables picks up an unstaged new file and a staged
// modification, but skips an entry with no change at all.
func TestCollectCommitables_MixedStatuses(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	// Untracked-turned-added file: no base blob, content present on disk.
	addPath := filepath.Join(root, "added.txt")
	if err := os.WriteFile(addPath, []byte("added"), 0o644); err != nil {
		t.Fatal(err)
	}
	addEntry := EntryAlloc("added.txt")
	if err := addEntry.EntryUpdate(addPath, object.ObjectID{}, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	wt.Index().EntryAdd(addEntry)

	// Tracked file with a staged modification but unchanged on disk
	// relative to its base (staged status wins over live status).
	modPath := filepath.Join(root, "staged.txt")
	if err := os.WriteFile(modPath, []byte("base"), 0o644); err != nil {
		t.Fatal(err)
	}
	baseBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("base")})
	if err != nil {
		t.Fatal(err)
	}
	stagedBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("staged edit")})
	if err != nil {
		t.Fatal(err)
	}
	modEntry := EntryAlloc("staged.txt")
	if err := modEntry.EntryUpdate(modPath, baseBlobID, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	modEntry.Stage = StageModify
	modEntry.StagedBlobID = stagedBlobID
	wt.Index().EntryAdd(modEntry)

	// Tracked, unmodified file: should be excluded entirely.
	cleanPath := filepath.Join(root, "clean.txt")
	if err := os.WriteFile(cleanPath, []byte("clean"), 0o644); err != nil {
		t.Fatal(err)
	}
	cleanBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("clean")})
	if err != nil {
		t.Fatal(err)
	}
	cleanEntry := EntryAlloc("clean.txt")
	if err := cleanEntry.EntryUpdate(cleanPath, cleanBlobID, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	wt.Index().EntryAdd(cleanEntry)

	commitables, err := CollectCommitables(wt, store, nil)
	if err != nil {
		t.Fatalf("CollectCommitables: %v", err)
	}

	byPath := make(map[string]*Commitable, len(commitables))
	for _, c := range commitables {
		byPath[c.Path] = c
	}

	if _, ok := byPath["clean.txt"]; ok {
		t.Error("clean.txt should not appear as a commitable")
	}
	addC, ok := byPath["added.txt"]
	if !ok {
		t.Fatal("added.txt missing from commitables")
	}
	if addC.Status != StatusAdd {
		t.Errorf("added.txt Status = %v, want StatusAdd", addC.Status)
	}

	modC, ok := byPath["staged.txt"]
	if !ok {
		t.Fatal("staged.txt missing from commitables")
	}
	if modC.StagedStatus != StatusModify {
		t.Errorf("staged.txt StagedStatus = %v, want StatusModify", modC.StagedStatus)
	}
	if modC.StagedBlobID != stagedBlobID {
		t.Error("staged.txt should carry its staged blob id")
	}
}

// Test: an explicit path filter restricts CollectCommitables to only the
// named paths even when other paths are also eligible.
func TestCollectCommitables_PathFilter(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	for _, name := range []string{"a.txt", "b.txt"} {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		e := EntryAlloc(name)
		if err := e.EntryUpdate(p, object.ObjectID{}, object.ObjectID{}, true); err != nil {
			t.Fatal(err)
		}
		wt.Index().EntryAdd(e)
	}

	commitables, err := CollectCommitables(wt, store, []string{"a.txt"})
	if err != nil {
		t.Fatalf("CollectCommitables: %v", err)
	}
	if len(commitables) != 1 || commitables[0].Path != "a.txt" {
		t.Errorf("commitables = %v, want only a.txt", commitables)
	}
}

// Test: a path left in conflict is still reported CONFLICT after the
// worktree is closed and reopened, and collecting commitables over it
// fails instead of silently dropping the file from the commit.
func TestCollectCommitables_ConflictAcrossReopen_Rejected(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	absPath := filepath.Join(root, "a.txt")
	if err := os.WriteFile(absPath, []byte("base\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	baseBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("base\n")})
	if err != nil {
		t.Fatal(err)
	}
	entry := EntryAlloc("a.txt")
	if err := entry.EntryUpdate(absPath, baseBlobID, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	wt.Index().EntryAdd(entry)

	conflicted := "<<<<<<< merged change: commit 1111\nours\n=======\ntheirs\n>>>>>>> base: commit 2222\n"
	if err := os.WriteFile(absPath, []byte(conflicted), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := wt.SyncFileIndex(); err != nil {
		t.Fatalf("SyncFileIndex: %v", err)
	}
	if err := wt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wt, err = Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wt.Close()

	reopened, ok := wt.Index().EntryGet("a.txt")
	if !ok {
		t.Fatal("a.txt missing from reopened index")
	}
	status, _, err := GetFileStatus(reopened, store, absPath)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if status != StatusConflict {
		t.Fatalf("status = %v, want StatusConflict", status)
	}

	if _, err := CollectCommitables(wt, store, nil); ErrKind(err) != KindCommitConflict {
		t.Errorf("ErrKind = %v, want KindCommitConflict", ErrKind(err))
	}
}
