package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/got/pkg/object"
)

// Test: staging a modified tracked file records a staged blob and flips
// its stage tag to StageModify, without touching the base blob id.
func TestStagePath_Modify(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	baseBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("original")})
	if err != nil {
		t.Fatal(err)
	}

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	entry := EntryAlloc("a.txt")
	if err := entry.EntryUpdate(path, baseBlobID, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	wt.Index().EntryAdd(entry)

	if err := os.WriteFile(path, []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := StagePath(wt, store, "a.txt", nil); err != nil {
		t.Fatalf("StagePath: %v", err)
	}

	got, _ := wt.Index().EntryGet("a.txt")
	if got.Stage != StageModify {
		t.Errorf("Stage = %v, want StageModify", got.Stage)
	}
	if got.StagedBlobID.IsZero() {
		t.Error("StagedBlobID not recorded")
	}
	if got.BlobID != baseBlobID {
		t.Error("base BlobID must not change on stage")
	}

	stagedBlob, err := store.ReadBlob(got.StagedBlobID)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(stagedBlob.Data) != "edited" {
		t.Errorf("staged blob content = %q, want %q", stagedBlob.Data, "edited")
	}
}

// Test: a PatchFunc transforms the staged content, not the on-disk file.
func TestStagePath_WithPatch(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("full content"), 0o644); err != nil {
		t.Fatal(err)
	}

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	entry := EntryAlloc("a.txt")
	wt.Index().EntryAdd(entry) // no base blob: treated as StatusAdd

	patch := func(p string, content []byte) ([]byte, error) {
		return []byte("patched"), nil
	}
	if err := StagePath(wt, store, "a.txt", patch); err != nil {
		t.Fatalf("StagePath: %v", err)
	}

	got, _ := wt.Index().EntryGet("a.txt")
	if got.Stage != StageAdd {
		t.Errorf("Stage = %v, want StageAdd", got.Stage)
	}
	blob, err := store.ReadBlob(got.StagedBlobID)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob.Data) != "patched" {
		t.Errorf("staged content = %q, want patched", blob.Data)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != "full content" {
		t.Error("on-disk file must not be modified by staging a patch")
	}
}

// Test: UnstagePath on a StageAdd entry clears the stage entirely.
func TestUnstagePath_Add(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	blobID, err := store.WriteBlob(&object.Blob{Data: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	entry := EntryAlloc("a.txt")
	entry.Stage = StageAdd
	entry.StagedBlobID = blobID
	wt.Index().EntryAdd(entry)

	if err := UnstagePath(wt, store, "a.txt", nil); err != nil {
		t.Fatalf("UnstagePath: %v", err)
	}
	got, _ := wt.Index().EntryGet("a.txt")
	if got.Stage != StageNone {
		t.Errorf("Stage = %v, want StageNone", got.Stage)
	}
	if !got.StagedBlobID.IsZero() {
		t.Error("StagedBlobID should be cleared")
	}
}

// Test: unstaging a path with no pending stage is rejected.
func TestUnstagePath_NotStaged_Rejected(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())
	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	wt.Index().EntryAdd(EntryAlloc("a.txt"))

	err = UnstagePath(wt, store, "a.txt", nil)
	if err == nil {
		t.Fatal("expected error unstaging a path with no pending stage")
	}
	if ErrKind(err) != KindFileNotStaged {
		t.Errorf("ErrKind = %v, want KindFileNotStaged", ErrKind(err))
	}
}

// Test: staging an untracked path fails with KindNoTreeEntry.
func TestStagePath_Untracked_Rejected(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())
	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	err = StagePath(wt, store, "missing.txt", nil)
	if err == nil {
		t.Fatal("expected error staging untracked path")
	}
	if ErrKind(err) != KindNoTreeEntry {
		t.Errorf("ErrKind = %v, want KindNoTreeEntry", ErrKind(err))
	}
}

// Test: staging a modified symlink records the link target text, not the
// bytes of whatever the link points at.
func TestStagePath_SymlinkRecordsTarget(t *testing.T) {
	root := t.TempDir()
	store := object.NewStore(t.TempDir())

	pointee := filepath.Join(root, "pointee.txt")
	if err := os.WriteFile(pointee, []byte("pointee content"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "link")
	if err := os.Symlink("old-target", path); err != nil {
		t.Fatal(err)
	}
	baseBlobID, err := store.WriteBlob(&object.Blob{Data: []byte("old-target")})
	if err != nil {
		t.Fatal(err)
	}

	wt, err := Init(root, t.TempDir(), "/", "refs/heads/main", object.ObjectID{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer wt.Close()

	entry := EntryAlloc("link")
	if err := entry.EntryUpdate(path, baseBlobID, object.ObjectID{}, true); err != nil {
		t.Fatal(err)
	}
	wt.Index().EntryAdd(entry)

	// Retarget the link at a real file: a dereferencing read would blob
	// the pointee's content instead of the target string.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("pointee.txt", path); err != nil {
		t.Fatal(err)
	}

	if err := StagePath(wt, store, "link", nil); err != nil {
		t.Fatalf("StagePath: %v", err)
	}

	got, _ := wt.Index().EntryGet("link")
	stagedBlob, err := store.ReadBlob(got.StagedBlobID)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(stagedBlob.Data) != "pointee.txt" {
		t.Errorf("staged blob content = %q, want the link target", stagedBlob.Data)
	}
	if got.StagedFileType != FileTypeSymlink {
		t.Errorf("StagedFileType = %v, want FileTypeSymlink", got.StagedFileType)
	}
}
