package worktree

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/odvcencio/got/pkg/object"
)

// refStore is the subset of *repo.Repo the rebase/histedit state machines
// need beyond headResolver: symref read/write for the durable marker
// references, and ref deletion for teardown.
type refStore interface {
	headResolver
	WriteSymref(name, target string) error
	GetSymrefTarget(name string) (target string, ok bool, err error)
	DeleteRef(name string) error
}

// markerRef names one of a worktree's UUID-derived durable state
// references, e.g. "refs/got-worktree/rebase-tmp-<uuid>".
func markerRef(wt *Worktree, suffix string) string {
	return fmt.Sprintf("refs/got-worktree/%s-%s", suffix, wt.UUID)
}

// deleteRefIgnoreMissing deletes name, tolerating its absence the way
// the reference delete_ref helper treats a missing ref as success.
func deleteRefIgnoreMissing(repo refStore, name string) error {
	if err := repo.DeleteRef(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return wrapf(KindIO, "delete ref", name, "%w", err)
	}
	return nil
}

// checkRebaseOk is the precondition rebase prepare shares with histedit
// prepare: no staged paths, no conflicts anywhere in the index.
func checkRebaseOk(fi *FileIndex, store objectStore, wt *Worktree) error {
	var refused error
	_ = fi.ForEachEntrySafe(func(e *Entry) error {
		if e.Stage != StageNone {
			refused = newErr(KindStagedPaths, "rebase", e.Path, fmt.Errorf("path has staged changes"))
			return refused
		}
		absPath := joinOSPath(wt.RootPath, e.Path)
		status, _, err := GetFileStatus(e, store, absPath)
		if err != nil {
			return err
		}
		if status == StatusConflict {
			refused = newErr(KindConflicts, "rebase", e.Path, fmt.Errorf("path has conflicts"))
			return refused
		}
		return nil
	})
	return refused
}

// RebasePrepare starts rebasing branchToRebaseRef onto the worktree's
// current branch (which must already be at the worktree's base commit).
// It records "newbase" (symref to the worktree's own branch, consulted by
// RebaseAbort) and "rebase-branch" (symref to branchToRebaseRef,
// consulted by RebaseComplete), creates "rebase-tmp" at the current base
// commit, and retargets the worktree's head ref at rebase-tmp.
func RebasePrepare(wt *Worktree, store objectStore, repo refStore, branchToRebaseRef string) (tmpBranchRef string, err error) {
	if err := checkRebaseOk(wt.Index(), store, wt); err != nil {
		return "", err
	}

	ontoRefName := wt.HeadRefName
	ontoTip, err := repo.ResolveRef(ontoRefName)
	if err != nil {
		return "", wrapf(KindIO, "rebase prepare", ontoRefName, "resolve: %w", err)
	}
	if ontoTip != wt.BaseCommitID {
		return "", newErr(KindRebaseOutOfDate, "rebase prepare", ontoRefName, fmt.Errorf("worktree base %s does not match branch tip %s", wt.BaseCommitID, ontoTip))
	}

	newbaseRef := markerRef(wt, "newbase")
	if err := repo.WriteSymref(newbaseRef, ontoRefName); err != nil {
		return "", wrapf(KindIO, "rebase prepare", newbaseRef, "write symref: %w", err)
	}

	rebaseBranchRef := markerRef(wt, "rebase-branch")
	if err := repo.WriteSymref(rebaseBranchRef, branchToRebaseRef); err != nil {
		return "", wrapf(KindIO, "rebase prepare", rebaseBranchRef, "write symref: %w", err)
	}

	tmpBranchRef = markerRef(wt, "rebase-tmp")
	if err := repo.UpdateRefCAS(tmpBranchRef, wt.BaseCommitID); err != nil {
		return "", wrapf(KindIO, "rebase prepare", tmpBranchRef, "create tmp branch: %w", err)
	}

	if err := wt.SetHeadRef(tmpBranchRef); err != nil {
		return "", err
	}
	return tmpBranchRef, nil
}

// RebaseInProgress reports whether wt's head ref currently points at its
// rebase-tmp marker.
func RebaseInProgress(wt *Worktree) bool {
	return wt.HeadRefName == markerRef(wt, "rebase-tmp")
}

// RebaseContinue re-opens all durable rebase markers after a reopen of the
// worktree, reporting the commit id still pending replay (zero if none is
// currently in flight), the tmp branch ref, the onto branch ref name (the
// "newbase"), and the branch ref name being rebased.
func RebaseContinue(wt *Worktree, repo refStore) (pendingCommitID object.ObjectID, tmpBranchRef, newBaseRefName, branchRefName string, err error) {
	tmpBranchRef = markerRef(wt, "rebase-tmp")

	rebaseBranchRef := markerRef(wt, "rebase-branch")
	branchRefName, ok, err := repo.GetSymrefTarget(rebaseBranchRef)
	if err != nil {
		return object.ObjectID{}, "", "", "", wrapf(KindIO, "rebase continue", rebaseBranchRef, "read symref: %w", err)
	}
	if !ok {
		return object.ObjectID{}, "", "", "", newErr(KindWorktreeMeta, "rebase continue", rebaseBranchRef, fmt.Errorf("not a symref"))
	}

	newbaseRef := markerRef(wt, "newbase")
	newBaseRefName, ok, err = repo.GetSymrefTarget(newbaseRef)
	if err != nil {
		return object.ObjectID{}, "", "", "", wrapf(KindIO, "rebase continue", newbaseRef, "read symref: %w", err)
	}
	if !ok {
		return object.ObjectID{}, "", "", "", newErr(KindWorktreeMeta, "rebase continue", newbaseRef, fmt.Errorf("not a symref"))
	}

	commitRef := markerRef(wt, "rebase-commit")
	pendingCommitID, err = repo.ResolveRef(commitRef)
	if err != nil {
		// No commit currently in flight: the previous commit/merge cycle
		// completed cleanly and the caller should proceed to the next
		// source commit.
		return object.ObjectID{}, tmpBranchRef, newBaseRefName, branchRefName, nil
	}
	return pendingCommitID, tmpBranchRef, newBaseRefName, branchRefName, nil
}

// storeCommitID records commitID under ref, creating it if absent. When
// isRebase is true and the ref already exists, a mismatching stored id is
// rejected with REBASE_COMMITID — a crash-resumed rebase must replay the
// same source commit it was interrupted on.
func storeCommitID(repo refStore, ref string, commitID object.ObjectID, isRebase bool) error {
	existing, err := repo.ResolveRef(ref)
	if err != nil {
		if err := repo.UpdateRefCAS(ref, commitID); err != nil {
			return wrapf(KindIO, "store commit id", ref, "create: %w", err)
		}
		return nil
	}
	if isRebase && existing != commitID {
		return newErr(KindRebaseCommitID, "store commit id", ref, fmt.Errorf("stored %s, expected %s", existing, commitID))
	}
	return nil
}

// RebaseMergeFiles records the source commit currently being replayed and
// folds the tree1-vs-tree2 diff into the work tree via MergeFiles,
// returning the set of paths the merge touched so RebaseCommit only
// re-walks those paths.
func RebaseMergeFiles(wt *Worktree, store objectStore, repo refStore, parentCommitID, commitID object.ObjectID, pairs []TreePairEntry) ([]string, error) {
	commitRef := markerRef(wt, "rebase-commit")
	if err := storeCommitID(repo, commitRef, commitID, true); err != nil {
		return nil, err
	}

	if err := MergeFiles(wt, store, pairs, commitID.String(), nil, nil); err != nil {
		return nil, err
	}

	merged := make([]string, len(pairs))
	for i, p := range pairs {
		merged[i] = p.Path
	}
	return merged, nil
}

// RebaseCommit folds the merged paths into a new commit on tmpBranchRef,
// reusing orig's author/committer/message (or logMsgOverride when
// non-empty; histedit has its own HisteditCommit), then advances
// tmpBranchRef and clears the rebase-commit marker. A no-op change (no
// commitable paths) deletes the marker and reports COMMIT_NO_CHANGES.
func RebaseCommit(wt *Worktree, store objectStore, repo refStore, tmpBranchRef string, mergedPaths []string, orig *object.Commit, origCommitID object.ObjectID, logMsgOverride string, now time.Time) (object.ObjectID, error) {
	commitRef := markerRef(wt, "rebase-commit")

	stored, err := repo.ResolveRef(commitRef)
	if err != nil {
		return object.ObjectID{}, wrapf(KindIO, "rebase commit", commitRef, "resolve: %w", err)
	}
	if stored != origCommitID {
		return object.ObjectID{}, newErr(KindRebaseCommitID, "rebase commit", commitRef, fmt.Errorf("stored %s, expected %s", stored, origCommitID))
	}

	commitables, err := CollectCommitables(wt, store, mergedPaths)
	if err != nil {
		return object.ObjectID{}, err
	}
	if len(commitables) == 0 {
		if err := deleteRefIgnoreMissing(repo, commitRef); err != nil {
			return object.ObjectID{}, err
		}
		return object.ObjectID{}, newErr(KindCommitNoChanges, "rebase commit", "", fmt.Errorf("no changes to commit"))
	}

	message := orig.Message
	if logMsgOverride != "" {
		message = logMsgOverride
	}

	newCommitID, err := CommitWorktree(store, repo, tmpBranchRef, wt, commitables, orig.Author, orig.Committer, message, now)
	if err != nil {
		return object.ObjectID{}, err
	}

	if err := deleteRefIgnoreMissing(repo, commitRef); err != nil {
		return object.ObjectID{}, err
	}
	return newCommitID, nil
}

func deleteRebaseRefs(wt *Worktree, repo refStore) error {
	for _, suffix := range []string{"rebase-tmp", "newbase", "rebase-branch", "rebase-commit"} {
		if err := deleteRefIgnoreMissing(repo, markerRef(wt, suffix)); err != nil {
			return err
		}
	}
	return nil
}

// RebasePostpone releases nothing state-specific beyond what Close already
// does; it exists so callers have a named counterpart to prepare/continue
// (the exclusive lock is simply held across the paused session until the
// next open).
func RebasePostpone(wt *Worktree) error {
	return wt.SyncFileIndex()
}

// RebaseComplete fast-forwards the rebased branch (rebase-branch's
// symref target) to tmpBranchRef's tip, switches the worktree's head ref
// back to it, and deletes every rebase marker.
func RebaseComplete(wt *Worktree, repo refStore, tmpBranchRef string) error {
	newHeadID, err := repo.ResolveRef(tmpBranchRef)
	if err != nil {
		return wrapf(KindIO, "rebase complete", tmpBranchRef, "resolve: %w", err)
	}

	rebaseBranchRef := markerRef(wt, "rebase-branch")
	branchRefName, ok, err := repo.GetSymrefTarget(rebaseBranchRef)
	if err != nil {
		return wrapf(KindIO, "rebase complete", rebaseBranchRef, "read symref: %w", err)
	}
	if !ok {
		return newErr(KindWorktreeMeta, "rebase complete", rebaseBranchRef, fmt.Errorf("not a symref"))
	}

	oldHeadID, err := repo.ResolveRef(branchRefName)
	if err != nil {
		return wrapf(KindIO, "rebase complete", branchRefName, "resolve: %w", err)
	}
	if err := repo.UpdateRefCAS(branchRefName, newHeadID, oldHeadID); err != nil {
		return wrapf(KindIO, "rebase complete", branchRefName, "fast-forward: %w", err)
	}

	if err := wt.SetHeadRef(branchRefName); err != nil {
		return err
	}
	if err := wt.SetBaseCommit(newHeadID); err != nil {
		return err
	}

	return deleteRebaseRefs(wt, repo)
}

// RebaseAbort resets the worktree's head ref back to newbase's symref
// target, restores the worktree base commit to that branch's current tip,
// deletes all rebase markers, reverts every modifiable path in the index,
// and checks out the restored tree.
func RebaseAbort(wt *Worktree, store objectStore, repo refStore, cancel func() bool) error {
	newbaseRef := markerRef(wt, "newbase")
	origBranchRef, ok, err := repo.GetSymrefTarget(newbaseRef)
	if err != nil {
		return wrapf(KindIO, "rebase abort", newbaseRef, "read symref: %w", err)
	}
	if !ok {
		return newErr(KindWorktreeMeta, "rebase abort", newbaseRef, fmt.Errorf("not a symref"))
	}

	if err := wt.SetHeadRef(origBranchRef); err != nil {
		return err
	}

	origCommitID, err := repo.ResolveRef(origBranchRef)
	if err != nil {
		return wrapf(KindIO, "rebase abort", origBranchRef, "resolve: %w", err)
	}
	if err := wt.SetBaseCommit(origCommitID); err != nil {
		return err
	}

	if err := deleteRebaseRefs(wt, repo); err != nil {
		return err
	}

	if err := revertAllModifiable(wt, store); err != nil {
		return err
	}

	origCommit, err := store.ReadCommit(origCommitID)
	if err != nil {
		return wrapf(KindNoObj, "rebase abort", origBranchRef, "read commit: %w", err)
	}

	if err := CheckoutFiles(wt, store, origCommit.TreeID, origCommitID, nil, nil, cancel); err != nil {
		return err
	}
	return wt.SyncFileIndex()
}

// revertAllModifiable reverts every index entry whose status is
// revertible (DELETE/MODIFY/MODE_CHANGE/CONFLICT/MISSING/ADD), used by
// both rebase and histedit abort before the final checkout.
func revertAllModifiable(wt *Worktree, store objectStore) error {
	var paths []string
	_ = wt.Index().ForEachEntrySafe(func(e *Entry) error {
		paths = append(paths, e.Path)
		return nil
	})
	for _, p := range paths {
		if _, ok := wt.Index().EntryGet(p); !ok {
			continue
		}
		if err := RevertPath(wt, store, p); err != nil {
			return err
		}
	}
	return nil
}
