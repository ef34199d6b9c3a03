package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/got/pkg/object"
)

func TestUpdateRef_WritesReflog(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	h1, err := object.ParseID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := object.ParseID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.UpdateRef("refs/heads/main", h1); err != nil {
		t.Fatalf("UpdateRef(h1): %v", err)
	}
	if err := r.UpdateRef("refs/heads/main", h2); err != nil {
		t.Fatalf("UpdateRef(h2): %v", err)
	}

	entries, err := r.ReadReflog("main", 10)
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 reflog entries, got %d", len(entries))
	}
	if entries[0].NewID != h2 {
		t.Fatalf("latest reflog new id = %s, want %s", entries[0].NewID, h2)
	}
	if entries[1].NewID != h1 {
		t.Fatalf("previous reflog new id = %s, want %s", entries[1].NewID, h1)
	}

	assertFile(t, filepath.Join(r.GotDir, "logs", "refs", "heads", "main"))
}

func TestReadReflog_RespectsLimit(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 5; i++ {
		h, err := object.ParseID(fmt.Sprintf("%040x", i+1))
		if err != nil {
			t.Fatalf("ParseID(%d): %v", i, err)
		}
		if err := r.UpdateRef("refs/heads/main", h); err != nil {
			t.Fatalf("UpdateRef(%d): %v", i, err)
		}
	}

	entries, err := r.ReadReflog("main", 2)
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
}

func TestUpdateRef_ReflogFailureIsReturned(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	logDir := filepath.Join(r.GotDir, "logs", "refs", "heads")
	if err := os.Remove(logDir); err != nil {
		t.Fatalf("remove reflog dir: %v", err)
	}
	if err := os.WriteFile(logDir, []byte("not-a-directory"), 0o644); err != nil {
		t.Fatalf("create reflog path blocker: %v", err)
	}

	h, err := object.ParseID("dddddddddddddddddddddddddddddddddddddddd")
	if err != nil {
		t.Fatal(err)
	}
	err = r.UpdateRef("refs/heads/main", h)
	var reflogErr *RefUpdateReflogError
	if err == nil || !errors.As(err, &reflogErr) {
		t.Fatalf("UpdateRef error = %v, want *RefUpdateReflogError", err)
	}

	got, resolveErr := r.ResolveRef("refs/heads/main")
	if resolveErr != nil {
		t.Fatalf("ResolveRef(main): %v", resolveErr)
	}
	if got != h {
		t.Fatalf("ResolveRef(main) = %s, want %s", got, h)
	}
}
