package worktree

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
)

// Commitable wraps one index entry being folded into a new commit.
type Commitable struct {
	Path         string // in-repository path
	OnDiskPath   string
	Status       Status
	StagedStatus Status
	Mode         object.FileMode
	FileType     FileType // on-disk shape, drives how a new blob is read
	BlobID       object.ObjectID // filled in once a new blob is created
	BaseBlobID   object.ObjectID
	StagedBlobID object.ObjectID
	BaseCommitID object.ObjectID

	added bool // set once folded into the synthesized tree, to avoid double processing
}

type objectStore interface {
	treeReader
	blobReader
	ReadCommit(id object.ObjectID) (*object.Commit, error)
	WriteBlob(b *object.Blob) (object.ObjectID, error)
	WriteTree(t *object.Tree) (object.ObjectID, error)
	WriteCommit(c *object.Commit) (object.ObjectID, error)
}

// CreateBlobs creates a new blob for every non-staged commitable whose
// status is ADD, MODIFY, or MODE_CHANGE. Staged commitables already
// carry a blob id from StagePath and are left untouched.
func CreateBlobs(store objectStore, commitables []*Commitable) error {
	for _, c := range commitables {
		if c.StagedStatus != StatusNoChange {
			c.BlobID = c.StagedBlobID
			continue
		}
		switch c.Status {
		case StatusAdd, StatusModify, StatusModeChange:
			// A symlink's blob holds the target text, never the bytes
			// behind the link.
			data, err := readFileContent(c.OnDiskPath, c.FileType)
			if err != nil {
				return err
			}
			id, err := store.WriteBlob(&object.Blob{Data: data})
			if err != nil {
				return wrapf(KindIO, "commit", c.OnDiskPath, "write blob: %w", err)
			}
			c.BlobID = id
		}
	}
	return nil
}

// WriteTree synthesizes a new root tree from headTreeID (the empty
// ObjectID denotes no base tree) and the set of commitables: existing
// entries are classified (submodule:
// copy; directory: recurse only if a commitable falls under it, drop if
// empty; deleted: omit; modified: replace; unchanged: copy), and
// additions are grouped by their leading path component into synthetic
// subtrees.
func WriteTree(store objectStore, headTreeID object.ObjectID, prefix string, commitables []*Commitable) (object.ObjectID, error) {
	var base object.Tree
	if !headTreeID.IsZero() {
		t, err := store.ReadTree(headTreeID)
		if err != nil {
			return object.ObjectID{}, wrapf(KindNoObj, "write tree", prefix, "read base tree: %w", err)
		}
		base = *t
	}

	here, nested := partitionCommitables(commitables, prefix)

	entries := make([]object.TreeEntry, 0, len(base.Entries)+len(here))
	seen := make(map[string]bool)

	for _, be := range base.Entries {
		if be.Mode.IsSubmodule() {
			entries = append(entries, be)
			seen[be.Name] = true
			continue
		}

		fullPath := joinRepoPath(prefix, be.Name)

		if be.Mode.IsDir() {
			subCommitables, matched := matchModifiedSubtree(commitables, fullPath)
			if !matched {
				// Nothing under this subtree changed: copy it unchanged
				// rather than recursing into it.
				entries = append(entries, be)
				seen[be.Name] = true
				continue
			}
			subTreeID, err := WriteTree(store, be.ID, fullPath, subCommitables)
			if err != nil {
				return object.ObjectID{}, err
			}
			subTree, err := store.ReadTree(subTreeID)
			if err != nil {
				return object.ObjectID{}, wrapf(KindNoObj, "write tree", fullPath, "read subtree: %w", err)
			}
			if len(subTree.Entries) == 0 {
				// Every path under this directory was deleted: drop it.
				seen[be.Name] = true
				continue
			}
			entries = append(entries, object.TreeEntry{Name: be.Name, Mode: object.ModeDir, ID: subTreeID})
			seen[be.Name] = true
			continue
		}

		if c, ok := here[be.Name]; ok {
			c.added = true
			seen[be.Name] = true
			switch c.Status {
			case StatusDelete:
				// omit: deleted.
			case StatusModify, StatusModeChange:
				entries = append(entries, object.TreeEntry{Name: be.Name, Mode: c.Mode, ID: c.BlobID})
			default:
				entries = append(entries, be)
			}
			continue
		}

		// Unchanged base entry with nothing touching it.
		entries = append(entries, be)
		seen[be.Name] = true
	}

	for name, c := range here {
		if seen[name] {
			continue
		}
		if c.Status == StatusDelete {
			continue
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: c.Mode, ID: c.BlobID})
		c.added = true
	}

	for name, subList := range nested {
		if seen[name] {
			continue
		}
		subTreeID, err := WriteTree(store, object.ObjectID{}, joinRepoPath(prefix, name), subList)
		if err != nil {
			return object.ObjectID{}, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: object.ModeDir, ID: subTreeID})
	}

	if err := checkDupEntries(entries, prefix); err != nil {
		return object.ObjectID{}, err
	}

	return store.WriteTree(&object.Tree{Entries: entries})
}

func checkDupEntries(entries []object.TreeEntry, prefix string) error {
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if names[e.Name] {
			return newErr(KindTreeDupEntry, "write tree", joinRepoPath(prefix, e.Name), fmt.Errorf("duplicate tree entry %q", e.Name))
		}
		names[e.Name] = true
	}
	return nil
}

// partitionCommitables splits commitables relative to prefix into those
// that sit directly at this level (here, keyed by leaf name) and those
// nested under a subdirectory (nested, keyed by the subdirectory name).
func partitionCommitables(commitables []*Commitable, prefix string) (here map[string]*Commitable, nested map[string][]*Commitable) {
	here = make(map[string]*Commitable)
	nested = make(map[string][]*Commitable)

	dirPrefix := ""
	if prefix != "" {
		dirPrefix = prefix + "/"
	}

	for _, c := range commitables {
		if dirPrefix != "" && !strings.HasPrefix(c.Path, dirPrefix) {
			continue
		}
		rest := strings.TrimPrefix(c.Path, dirPrefix)
		if rest == "" {
			continue
		}
		if slash := strings.IndexByte(rest, '/'); slash < 0 {
			here[rest] = c
		} else {
			name := rest[:slash]
			nested[name] = append(nested[name], c)
		}
	}
	return here, nested
}

// matchModifiedSubtree reports whether any commitable falls under
// subtreePath, and if so returns the full commitable list (WriteTree
// re-partitions it relative to the new prefix on recursion).
func matchModifiedSubtree(commitables []*Commitable, subtreePath string) ([]*Commitable, bool) {
	dirPrefix := subtreePath + "/"
	var matched []*Commitable
	for _, c := range commitables {
		if strings.HasPrefix(c.Path, dirPrefix) {
			matched = append(matched, c)
		}
	}
	return matched, len(matched) > 0
}

// headResolver is the subset of *repo.Repo needed to re-check the
// branch head under lock immediately before updating it.
type headResolver interface {
	ResolveRef(ref string) (object.ObjectID, error)
	UpdateRefCAS(ref string, newID object.ObjectID, oldID ...object.ObjectID) error
}

// CommitWorktree folds commitables into a new commit on headRefName:
// blobs are created first, the new tree is
// synthesized against the worktree's current base tree, the commit
// object is written with parent = the worktree's base commit, and the
// head ref is updated under a compare-and-swap against the head id the
// commit was based on (COMMIT_HEAD_CHANGED on mismatch). message being
// empty is rejected before any of this runs.
func CommitWorktree(store objectStore, repo headResolver, headRefName string, wt *Worktree, commitables []*Commitable, author, committer object.Signature, message string, now time.Time) (object.ObjectID, error) {
	if strings.TrimSpace(message) == "" {
		return object.ObjectID{}, newErr(KindCommitMsgEmpty, "commit", "", fmt.Errorf("empty commit message"))
	}
	if len(commitables) == 0 {
		return object.ObjectID{}, newErr(KindCommitNoChanges, "commit", "", fmt.Errorf("nothing to commit"))
	}

	if err := CreateBlobs(store, commitables); err != nil {
		return object.ObjectID{}, err
	}

	headBeforeCommit := wt.BaseCommitID

	var baseTreeID object.ObjectID
	if !wt.BaseCommitID.IsZero() {
		baseCommitObj, err := store.ReadCommit(wt.BaseCommitID)
		if err != nil {
			return object.ObjectID{}, wrapf(KindNoObj, "commit", "", "read base commit: %w", err)
		}
		baseTreeID = baseCommitObj.TreeID
	}

	newTreeID, err := WriteTree(store, baseTreeID, "", commitables)
	if err != nil {
		return object.ObjectID{}, err
	}

	ts := now.Unix()
	author.When, committer.When = ts, ts

	var parents []object.ObjectID
	if !headBeforeCommit.IsZero() {
		parents = []object.ObjectID{headBeforeCommit}
	}

	commitID, err := store.WriteCommit(&object.Commit{
		TreeID:    newTreeID,
		Parents:   parents,
		Author:    author,
		Committer: committer,
		Message:   message,
	})
	if err != nil {
		return object.ObjectID{}, wrapf(KindIO, "commit", "", "write commit: %w", err)
	}

	currentHead, err := repo.ResolveRef(headRefName)
	if err != nil {
		// A branch being born has no ref file yet; its head is the
		// zero id, matched below against an equally zero base.
		if !errors.Is(err, os.ErrNotExist) {
			return object.ObjectID{}, wrapf(KindIO, "commit", headRefName, "resolve head: %w", err)
		}
		currentHead = object.ObjectID{}
	}
	if currentHead != headBeforeCommit {
		return object.ObjectID{}, newErr(KindCommitHeadChanged, "commit", headRefName, fmt.Errorf("head moved from %s to %s", headBeforeCommit, currentHead))
	}
	if err := repo.UpdateRefCAS(headRefName, commitID, headBeforeCommit); err != nil {
		return object.ObjectID{}, wrapf(KindIO, "commit", headRefName, "update head: %w", err)
	}

	if err := wt.SetBaseCommit(commitID); err != nil {
		return object.ObjectID{}, err
	}
	if err := repo.UpdateRefCAS(markerRef(wt, "base"), commitID); err != nil {
		return object.ObjectID{}, wrapf(KindIO, "commit", "", "write base marker: %w", err)
	}

	for _, c := range commitables {
		entry, ok := wt.Index().EntryGet(c.Path)
		switch {
		case c.Status == StatusDelete || c.StagedStatus == StatusDelete:
			if ok {
				wt.Index().EntryRemove(entry)
			}
		case ok:
			entry.BlobID = c.BlobID
			entry.CommitID = commitID
			entry.Stage = StageNone
			entry.StagedBlobID = object.ObjectID{}
		default:
			newEntry := EntryAlloc(c.Path)
			newEntry.BlobID = c.BlobID
			newEntry.CommitID = commitID
			// Record the on-disk fingerprint when the file is still
			// there; a staged add whose file has since vanished keeps a
			// zero fingerprint and the next walk re-examines it.
			_ = newEntry.EntryUpdate(c.OnDiskPath, c.BlobID, commitID, true)
			wt.Index().EntryAdd(newEntry)
		}
	}

	if err := wt.SyncFileIndex(); err != nil {
		return object.ObjectID{}, err
	}

	return commitID, nil
}
