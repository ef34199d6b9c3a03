package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newRebaseCmd() *cobra.Command {
	var continueRebase bool
	var abortRebase bool

	cmd := &cobra.Command{
		Use:   "rebase [branch]",
		Short: "Replay a branch's commits onto the work tree's current branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			out := cmd.OutOrStdout()

			switch {
			case abortRebase:
				return rebaseAbort(out, wt, r)
			case continueRebase:
				return rebaseRun(out, wt, r, "", true)
			case len(args) == 1:
				return rebaseRun(out, wt, r, branchRefName(args[0]), false)
			default:
				return fmt.Errorf("rebase: specify a branch, or pass --continue/--abort")
			}
		},
	}

	cmd.Flags().BoolVar(&continueRebase, "continue", false, "resume an in-progress rebase")
	cmd.Flags().BoolVar(&abortRebase, "abort", false, "abort an in-progress rebase and restore the original branch")

	return cmd
}

func rebaseAbort(out interface{ Write([]byte) (int, error) }, wt *worktree.Worktree, r *repo.Repo) error {
	if !worktree.RebaseInProgress(wt) {
		return fmt.Errorf("rebase: no rebase in progress")
	}
	if err := worktree.RebaseAbort(wt, r.Store, r, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "rebase aborted")
	return nil
}

// rebaseRun drives the rebase state machine end to end: prepare (unless
// resuming), replay each pending source commit via the merge driver, and
// complete by fast-forwarding the rebased branch once the queue drains.
// On a merge conflict it stops mid-flight, leaving the durable markers
// in place for a later --continue.
func rebaseRun(out interface{ Write([]byte) (int, error) }, wt *worktree.Worktree, r *repo.Repo, branchToRebaseRef string, resuming bool) error {
	var tmpBranchRef, branchRefName string
	var ontoBaseID object.ObjectID

	if resuming {
		if !worktree.RebaseInProgress(wt) {
			return fmt.Errorf("rebase: no rebase in progress")
		}
		pending, tmp, newBase, branch, err := worktree.RebaseContinue(wt, r)
		if err != nil {
			return err
		}
		tmpBranchRef, branchRefName = tmp, branch
		if !pending.IsZero() {
			return fmt.Errorf("rebase: commit %s still has unresolved conflicts; fix them and run got commit, then got rebase --continue", shortID(pending))
		}
		// The onto branch itself never moves during the rebase; its tip
		// is the replay base regardless of how far the worktree's own
		// base commit has advanced along the tmp branch.
		ontoBaseID, err = r.ResolveRef(newBase)
		if err != nil {
			return fmt.Errorf("rebase: resolve %s: %w", newBase, err)
		}
	} else {
		var err error
		tmpBranchRef, err = worktree.RebasePrepare(wt, r.Store, r, branchToRebaseRef)
		if err != nil {
			return err
		}
		branchRefName = branchToRebaseRef
		ontoBaseID = wt.BaseCommitID
	}

	pending, err := commitsToReplay(r, ontoBaseID, branchRefName)
	if err != nil {
		return err
	}

	applied, err := countCommits(r, ontoBaseID, tmpBranchRef)
	if err != nil {
		return err
	}
	if applied > len(pending) {
		applied = len(pending)
	}
	pending = pending[applied:]

	for _, commitID := range pending {
		commit, err := r.Store.ReadCommit(commitID)
		if err != nil {
			return fmt.Errorf("rebase: read commit %s: %w", commitID, err)
		}

		var parentTreeID object.ObjectID
		if len(commit.Parents) > 0 {
			parentCommit, err := r.Store.ReadCommit(commit.Parents[0])
			if err != nil {
				return fmt.Errorf("rebase: read parent commit %s: %w", commit.Parents[0], err)
			}
			parentTreeID = parentCommit.TreeID
		}

		var pairs []worktree.TreePairEntry
		if err := diffTreesForMerge(r.Store, parentTreeID, commit.TreeID, "", &pairs); err != nil {
			return fmt.Errorf("rebase: diff commit %s: %w", commitID, err)
		}

		var parentID object.ObjectID
		if len(commit.Parents) > 0 {
			parentID = commit.Parents[0]
		}
		merged, err := worktree.RebaseMergeFiles(wt, r.Store, r, parentID, commitID, pairs)
		if err != nil {
			return err
		}

		conflicted, err := anyConflicts(wt, r.Store, merged)
		if err != nil {
			return err
		}
		if conflicted {
			fmt.Fprintf(out, "rebase: commit %s conflicted; resolve and run got rebase --continue\n", shortID(commitID))
			return nil
		}

		newID, err := worktree.RebaseCommit(wt, r.Store, r, tmpBranchRef, merged, commit, commitID, "", time.Now())
		if err != nil {
			if worktree.ErrKind(err) == worktree.KindCommitNoChanges {
				fmt.Fprintf(out, "skipped %s (no changes)\n", shortID(commitID))
				continue
			}
			return err
		}
		fmt.Fprintf(out, "rebased %s -> %s\n", shortID(commitID), shortID(newID))
	}

	if err := worktree.RebaseComplete(wt, r, tmpBranchRef); err != nil {
		return err
	}
	fmt.Fprintf(out, "rebase complete: %s\n", strings.TrimPrefix(branchRefName, "refs/heads/"))
	return nil
}

// commitsToReplay walks branchRefName's history back to ontoBaseID and
// returns the commits unique to it in oldest-first replay order.
func commitsToReplay(r *repo.Repo, ontoBaseID object.ObjectID, branchRefName string) ([]object.ObjectID, error) {
	tip, err := r.ResolveRef(branchRefName)
	if err != nil {
		return nil, fmt.Errorf("rebase: resolve %s: %w", branchRefName, err)
	}

	ontoAncestors := map[object.ObjectID]bool{}
	queue := []object.ObjectID{ontoBaseID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id.IsZero() || ontoAncestors[id] {
			continue
		}
		ontoAncestors[id] = true
		c, err := r.Store.ReadCommit(id)
		if err != nil {
			return nil, fmt.Errorf("rebase: read commit %s: %w", id, err)
		}
		queue = append(queue, c.Parents...)
	}

	var chain []object.ObjectID
	cur := tip
	for !cur.IsZero() && !ontoAncestors[cur] {
		chain = append(chain, cur)
		c, err := r.Store.ReadCommit(cur)
		if err != nil {
			return nil, fmt.Errorf("rebase: read commit %s: %w", cur, err)
		}
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// anyConflicts reports whether any of the given worktree-relative paths
// is currently flagged CONFLICT by the status walker.
func anyConflicts(wt *worktree.Worktree, store *object.Store, paths []string) (bool, error) {
	for _, p := range paths {
		e, ok := wt.Index().EntryGet(p)
		if !ok {
			continue
		}
		absPath := filepath.Join(wt.RootPath, filepath.FromSlash(p))
		status, _, err := worktree.GetFileStatus(e, store, absPath)
		if err != nil {
			return false, err
		}
		if status == worktree.StatusConflict {
			return true, nil
		}
	}
	return false, nil
}
