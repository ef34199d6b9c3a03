package repo

import (
	"testing"
)

func TestTagCreateResolveAndList(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	head := writeTestCommit(t, r, "initial")

	if err := r.CreateTag("v1.0.0", head, false); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	resolved, err := r.ResolveTag("v1.0.0")
	if err != nil {
		t.Fatalf("ResolveTag: %v", err)
	}
	if resolved != head {
		t.Fatalf("resolved tag = %s, want %s", resolved, head)
	}

	tags, err := r.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 || tags[0] != "v1.0.0" {
		t.Fatalf("ListTags = %v, want [v1.0.0]", tags)
	}
}

func TestTagCreateExistingWithoutForceFails(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	head := writeTestCommit(t, r, "initial")

	if err := r.CreateTag("v1.0.0", head, false); err != nil {
		t.Fatalf("CreateTag first: %v", err)
	}
	if err := r.CreateTag("v1.0.0", head, false); err == nil {
		t.Fatalf("CreateTag second without force should fail")
	}
}

func TestTagCreateForceUpdatesTarget(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	h1 := writeTestCommit(t, r, "initial")

	if err := r.CreateTag("v1.0.0", h1, false); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	h2 := writeTestCommit(t, r, "second", h1)

	if err := r.CreateTag("v1.0.0", h2, true); err != nil {
		t.Fatalf("CreateTag force: %v", err)
	}
	resolved, err := r.ResolveTag("v1.0.0")
	if err != nil {
		t.Fatalf("ResolveTag: %v", err)
	}
	if resolved != h2 {
		t.Fatalf("resolved tag = %s, want %s", resolved, h2)
	}
}

func TestTagDelete(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	head := writeTestCommit(t, r, "initial")

	if err := r.CreateTag("v1.0.0", head, false); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if err := r.DeleteTag("v1.0.0"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if _, err := r.ResolveTag("v1.0.0"); err == nil {
		t.Fatalf("ResolveTag should fail after delete")
	}
}

func TestCreateAnnotatedTagStoresTagObjectAndRef(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	head := writeTestCommit(t, r, "initial")

	tagID, err := r.CreateAnnotatedTag("v1.0.0", head, "Alice", "release 1.0.0", false)
	if err != nil {
		t.Fatalf("CreateAnnotatedTag: %v", err)
	}
	if tagID.IsZero() {
		t.Fatalf("CreateAnnotatedTag returned zero id")
	}
	if tagID == head {
		t.Fatalf("annotated tag id should differ from target commit id")
	}

	resolvedRef, err := r.ResolveTag("v1.0.0")
	if err != nil {
		t.Fatalf("ResolveTag: %v", err)
	}
	if resolvedRef != tagID {
		t.Fatalf("resolved tag ref = %s, want %s", resolvedRef, tagID)
	}

	tag, err := r.Store.ReadTag(tagID)
	if err != nil {
		t.Fatalf("ReadTag(%s): %v", tagID, err)
	}
	if tag.TargetID != head {
		t.Fatalf("tag target = %s, want %s", tag.TargetID, head)
	}
	if tag.TargetType != "commit" {
		t.Fatalf("tag target type = %q, want commit", tag.TargetType)
	}
	if tag.Name != "v1.0.0" {
		t.Fatalf("tag name = %q, want v1.0.0", tag.Name)
	}
	if tag.Tagger.Name != "Alice" {
		t.Fatalf("tagger = %q, want Alice", tag.Tagger.Name)
	}
	if tag.Message != "release 1.0.0" {
		t.Fatalf("tag message = %q, want %q", tag.Message, "release 1.0.0")
	}
}

func TestCreateAnnotatedTagRequiresMessage(t *testing.T) {
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	head := writeTestCommit(t, r, "initial")

	if _, err := r.CreateAnnotatedTag("v1.0.0", head, "Alice", "   ", false); err == nil {
		t.Fatalf("expected CreateAnnotatedTag to fail without message")
	}
}
