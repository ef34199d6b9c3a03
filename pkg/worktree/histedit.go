package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
)

// HisteditVerb names one histedit-script action.
type HisteditVerb string

const (
	HisteditPick HisteditVerb = "pick"
	HisteditEdit HisteditVerb = "edit"
	HisteditFold HisteditVerb = "fold"
	HisteditDrop HisteditVerb = "drop"
	HisteditMesg HisteditVerb = "mesg"
)

// HisteditCmd is one parsed line of the histedit-script meta file: a verb,
// the commit id it applies to, and the original log line kept purely for
// the editor's reference text.
type HisteditCmd struct {
	Verb     HisteditVerb
	CommitID object.ObjectID
	LogLine  string
}

const histeditScriptName = "histedit-script"

// WriteHisteditScript writes the histedit-script meta file: one line per
// command, "<verb> <commit-id> <log line>".
func WriteHisteditScript(wt *Worktree, cmds []HisteditCmd) error {
	var b strings.Builder
	for _, c := range cmds {
		fmt.Fprintf(&b, "%s %s %s\n", c.Verb, c.CommitID, c.LogLine)
	}
	path := filepath.Join(wt.MetaDir, histeditScriptName)
	return writeFileAtomic(path, []byte(b.String()), 0o644)
}

// ReadHisteditScript parses the histedit-script meta file back into its
// command list, skipping blank lines.
func ReadHisteditScript(wt *Worktree) ([]HisteditCmd, error) {
	path := filepath.Join(wt.MetaDir, histeditScriptName)
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapf(KindWorktreeMeta, "read histedit script", path, "%w", err)
	}
	defer f.Close()

	var cmds []HisteditCmd
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			return nil, newErr(KindWorktreeMeta, "read histedit script", path, fmt.Errorf("malformed line %q", line))
		}
		id, err := object.ParseID(fields[1])
		if err != nil {
			return nil, wrapf(KindWorktreeMeta, "read histedit script", path, "parse commit id: %w", err)
		}
		cmd := HisteditCmd{Verb: HisteditVerb(fields[0]), CommitID: id}
		if len(fields) == 3 {
			cmd.LogLine = fields[2]
		}
		cmds = append(cmds, cmd)
	}
	if err := sc.Err(); err != nil {
		return nil, wrapf(KindIO, "read histedit script", path, "%w", err)
	}
	return cmds, nil
}

func deleteHisteditScript(wt *Worktree) error {
	path := filepath.Join(wt.MetaDir, histeditScriptName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return wrapf(KindIO, "delete histedit script", path, "%w", err)
	}
	return nil
}

// HisteditPrepare starts editing the worktree's own branch history. The
// worktree must sit at the base commit of the range being edited (an
// ancestor of the branch tip). It records "histedit-branch" (symref to
// the worktree's branch, consulted by both abort and complete),
// "histedit-base-commit" (the worktree's base at prepare time, consulted
// by abort and for resume bookkeeping), creates "histedit-tmp" at that
// same base commit, persists the edit script, and retargets the
// worktree's head ref at histedit-tmp.
func HisteditPrepare(wt *Worktree, store objectStore, repo refStore, cmds []HisteditCmd) (tmpBranchRef string, err error) {
	if err := checkRebaseOk(wt.Index(), store, wt); err != nil {
		return "", err
	}

	branchRefName := wt.HeadRefName
	branchTip, err := repo.ResolveRef(branchRefName)
	if err != nil {
		return "", wrapf(KindIO, "histedit prepare", branchRefName, "resolve: %w", err)
	}
	ancestor, err := isAncestor(store, wt.BaseCommitID, branchTip)
	if err != nil {
		return "", err
	}
	if !ancestor {
		return "", newErr(KindRebaseOutOfDate, "histedit prepare", branchRefName, fmt.Errorf("worktree base %s is not an ancestor of branch tip %s", wt.BaseCommitID, branchTip))
	}

	branchRef := markerRef(wt, "histedit-branch")
	if err := repo.WriteSymref(branchRef, branchRefName); err != nil {
		return "", wrapf(KindIO, "histedit prepare", branchRef, "write symref: %w", err)
	}

	baseCommitRef := markerRef(wt, "histedit-base-commit")
	if err := repo.UpdateRefCAS(baseCommitRef, wt.BaseCommitID); err != nil {
		return "", wrapf(KindIO, "histedit prepare", baseCommitRef, "create: %w", err)
	}

	tmpBranchRef = markerRef(wt, "histedit-tmp")
	if err := repo.UpdateRefCAS(tmpBranchRef, wt.BaseCommitID); err != nil {
		return "", wrapf(KindIO, "histedit prepare", tmpBranchRef, "create tmp branch: %w", err)
	}

	if err := WriteHisteditScript(wt, cmds); err != nil {
		return "", err
	}

	if err := wt.SetHeadRef(tmpBranchRef); err != nil {
		return "", err
	}
	return tmpBranchRef, nil
}

// isAncestor reports whether base is reachable from tip via parent
// links (or equal to it). A zero base is treated as an ancestor of
// everything.
func isAncestor(store objectStore, base, tip object.ObjectID) (bool, error) {
	if base.IsZero() {
		return true, nil
	}
	seen := map[object.ObjectID]bool{}
	queue := []object.ObjectID{tip}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.IsZero() || seen[id] {
			continue
		}
		if id == base {
			return true, nil
		}
		seen[id] = true
		c, err := store.ReadCommit(id)
		if err != nil {
			return false, wrapf(KindNoObj, "walk ancestry", "", "read commit %s: %w", id, err)
		}
		queue = append(queue, c.Parents...)
	}
	return false, nil
}

// HisteditInProgress reports whether wt's head ref currently points at its
// histedit-tmp marker.
func HisteditInProgress(wt *Worktree) bool {
	return wt.HeadRefName == markerRef(wt, "histedit-tmp")
}

// HisteditContinue re-opens all durable histedit markers and the edit
// script after a reopen of the worktree, reporting the commit id still
// pending replay (zero if none is in flight), the tmp branch ref, and the
// branch ref name being edited.
func HisteditContinue(wt *Worktree, repo refStore) (pendingCommitID object.ObjectID, tmpBranchRef, branchRefName string, cmds []HisteditCmd, err error) {
	tmpBranchRef = markerRef(wt, "histedit-tmp")

	branchRef := markerRef(wt, "histedit-branch")
	branchRefName, ok, err := repo.GetSymrefTarget(branchRef)
	if err != nil {
		return object.ObjectID{}, "", "", nil, wrapf(KindIO, "histedit continue", branchRef, "read symref: %w", err)
	}
	if !ok {
		return object.ObjectID{}, "", "", nil, newErr(KindWorktreeMeta, "histedit continue", branchRef, fmt.Errorf("not a symref"))
	}

	cmds, err = ReadHisteditScript(wt)
	if err != nil {
		return object.ObjectID{}, "", "", nil, err
	}

	commitRef := markerRef(wt, "histedit-commit")
	pendingCommitID, err = repo.ResolveRef(commitRef)
	if err != nil {
		return object.ObjectID{}, tmpBranchRef, branchRefName, cmds, nil
	}
	return pendingCommitID, tmpBranchRef, branchRefName, cmds, nil
}

// HisteditMergeFiles records the source commit currently being replayed
// and folds its tree diff into the work tree, mirroring RebaseMergeFiles
// but without rebase's strict id-match-on-retry enforcement: histedit
// lets an edit/fold stop mid-merge and resume against the same commit
// without having already committed anything for it.
func HisteditMergeFiles(wt *Worktree, store objectStore, repo refStore, commitID object.ObjectID, pairs []TreePairEntry) ([]string, error) {
	commitRef := markerRef(wt, "histedit-commit")
	if err := storeCommitID(repo, commitRef, commitID, false); err != nil {
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

// HisteditCommit folds the merged paths into a new commit on tmpBranchRef.
// logMsgOverride replaces orig's message for "edit"/"mesg" script lines; a
// "fold" line's caller should defer committing until the fold group's
// last commit is merged. A no-op change deletes the pending marker and
// reports COMMIT_NO_CHANGES, mirroring RebaseCommit.
func HisteditCommit(wt *Worktree, store objectStore, repo refStore, tmpBranchRef string, mergedPaths []string, orig *object.Commit, origCommitID object.ObjectID, logMsgOverride string, now time.Time) (object.ObjectID, error) {
	commitRef := markerRef(wt, "histedit-commit")

	stored, err := repo.ResolveRef(commitRef)
	if err != nil {
		return object.ObjectID{}, wrapf(KindIO, "histedit commit", commitRef, "resolve: %w", err)
	}
	if stored != origCommitID {
		return object.ObjectID{}, newErr(KindHisteditCommitID, "histedit commit", commitRef, fmt.Errorf("stored %s, expected %s", stored, origCommitID))
	}

	commitables, err := CollectCommitables(wt, store, mergedPaths)
	if err != nil {
		return object.ObjectID{}, err
	}
	if len(commitables) == 0 {
		if err := deleteRefIgnoreMissing(repo, commitRef); err != nil {
			return object.ObjectID{}, err
		}
		return object.ObjectID{}, newErr(KindCommitNoChanges, "histedit commit", "", fmt.Errorf("no changes to commit"))
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

// HisteditSkipCommit records and immediately releases the histedit-commit
// marker for a "drop" script line: an audit trail of which source commit
// was skipped, with no id-match enforcement on resume since nothing is
// replayed for it.
func HisteditSkipCommit(repo refStore, commitID object.ObjectID, wt *Worktree) error {
	commitRef := markerRef(wt, "histedit-commit")
	if err := storeCommitID(repo, commitRef, commitID, false); err != nil {
		return err
	}
	return deleteRefIgnoreMissing(repo, commitRef)
}

func deleteHisteditRefs(wt *Worktree, repo refStore) error {
	for _, suffix := range []string{"histedit-tmp", "histedit-branch", "histedit-base-commit", "histedit-commit"} {
		if err := deleteRefIgnoreMissing(repo, markerRef(wt, suffix)); err != nil {
			return err
		}
	}
	return nil
}

// HisteditPostpone persists the file index so a paused histedit session
// can be safely reopened later; the exclusive worktree lock is held
// across the pause.
func HisteditPostpone(wt *Worktree) error {
	return wt.SyncFileIndex()
}

// HisteditComplete fast-forwards the edited branch (histedit-branch's
// symref target) to tmpBranchRef's tip, switches the worktree's head ref
// back to it, and deletes every histedit marker and the edit script.
func HisteditComplete(wt *Worktree, repo refStore, tmpBranchRef string) error {
	newHeadID, err := repo.ResolveRef(tmpBranchRef)
	if err != nil {
		return wrapf(KindIO, "histedit complete", tmpBranchRef, "resolve: %w", err)
	}

	branchRef := markerRef(wt, "histedit-branch")
	branchRefName, ok, err := repo.GetSymrefTarget(branchRef)
	if err != nil {
		return wrapf(KindIO, "histedit complete", branchRef, "read symref: %w", err)
	}
	if !ok {
		return newErr(KindWorktreeMeta, "histedit complete", branchRef, fmt.Errorf("not a symref"))
	}

	oldHeadID, err := repo.ResolveRef(branchRefName)
	if err != nil {
		return wrapf(KindIO, "histedit complete", branchRefName, "resolve: %w", err)
	}
	if err := repo.UpdateRefCAS(branchRefName, newHeadID, oldHeadID); err != nil {
		return wrapf(KindIO, "histedit complete", branchRefName, "fast-forward: %w", err)
	}

	if err := wt.SetHeadRef(branchRefName); err != nil {
		return err
	}
	if err := wt.SetBaseCommit(newHeadID); err != nil {
		return err
	}

	if err := deleteHisteditRefs(wt, repo); err != nil {
		return err
	}
	return deleteHisteditScript(wt)
}

// HisteditAbort resets the worktree's head ref and base commit back to
// histedit-base-commit's recorded value, deletes all histedit markers and
// the edit script, reverts every modifiable path, and checks out the
// restored tree.
func HisteditAbort(wt *Worktree, store objectStore, repo refStore, cancel func() bool) error {
	branchRef := markerRef(wt, "histedit-branch")
	branchRefName, ok, err := repo.GetSymrefTarget(branchRef)
	if err != nil {
		return wrapf(KindIO, "histedit abort", branchRef, "read symref: %w", err)
	}
	if !ok {
		return newErr(KindWorktreeMeta, "histedit abort", branchRef, fmt.Errorf("not a symref"))
	}

	baseCommitRef := markerRef(wt, "histedit-base-commit")
	baseCommitID, err := repo.ResolveRef(baseCommitRef)
	if err != nil {
		return wrapf(KindIO, "histedit abort", baseCommitRef, "resolve: %w", err)
	}

	if err := wt.SetHeadRef(branchRefName); err != nil {
		return err
	}
	if err := wt.SetBaseCommit(baseCommitID); err != nil {
		return err
	}

	if err := deleteHisteditRefs(wt, repo); err != nil {
		return err
	}
	if err := deleteHisteditScript(wt); err != nil {
		return err
	}

	if err := revertAllModifiable(wt, store); err != nil {
		return err
	}

	baseCommit, err := store.ReadCommit(baseCommitID)
	if err != nil {
		return wrapf(KindNoObj, "histedit abort", baseCommitRef, "read commit: %w", err)
	}

	if err := CheckoutFiles(wt, store, baseCommit.TreeID, baseCommitID, nil, nil, cancel); err != nil {
		return err
	}
	return wt.SyncFileIndex()
}
