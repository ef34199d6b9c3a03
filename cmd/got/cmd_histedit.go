package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newHisteditCmd() *cobra.Command {
	var continueEdit bool
	var abortEdit bool
	var dropList string

	cmd := &cobra.Command{
		Use:   "histedit [base-ref]",
		Short: "Rewrite the work tree branch's own history since base-ref",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			out := cmd.OutOrStdout()

			switch {
			case abortEdit:
				return histeditAbort(out, wt, r)
			case continueEdit:
				return histeditRun(out, wt, r, true, nil)
			case len(args) == 1:
				drop := map[object.ObjectID]bool{}
				for _, s := range strings.Split(dropList, ",") {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					id, err := resolveLogStart(r, s)
					if err != nil {
						return fmt.Errorf("histedit: resolve --drop %q: %w", s, err)
					}
					drop[id] = true
				}
				baseID, err := resolveLogStart(r, args[0])
				if err != nil {
					return err
				}
				return histeditStart(out, wt, r, baseID, drop)
			default:
				return fmt.Errorf("histedit: specify a base ref, or pass --continue/--abort")
			}
		},
	}

	cmd.Flags().BoolVar(&continueEdit, "continue", false, "resume an in-progress histedit")
	cmd.Flags().BoolVar(&abortEdit, "abort", false, "abort an in-progress histedit and restore the original branch")
	cmd.Flags().StringVar(&dropList, "drop", "", "comma-separated commit ids to drop from the rewritten history")

	return cmd
}

func histeditAbort(out interface{ Write([]byte) (int, error) }, wt *worktree.Worktree, r *repo.Repo) error {
	if !worktree.HisteditInProgress(wt) {
		return fmt.Errorf("histedit: no edit in progress")
	}
	if err := worktree.HisteditAbort(wt, r.Store, r, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "histedit aborted")
	return nil
}

// histeditStart builds a default "pick everything" script for the commits
// between baseID (exclusive) and the work tree branch's current tip
// (oldest first), demoting any commit named in drop to a "drop" line,
// moves the work tree back to baseID so replay starts from the edited
// range's base, then runs the edit to completion.
func histeditStart(out interface{ Write([]byte) (int, error) }, wt *worktree.Worktree, r *repo.Repo, baseID object.ObjectID, drop map[object.ObjectID]bool) error {
	tipID, err := r.ResolveRef(wt.HeadRefName)
	if err != nil {
		return fmt.Errorf("histedit: resolve %s: %w", wt.HeadRefName, err)
	}

	chain, err := ancestryChain(r, tipID, baseID)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return fmt.Errorf("histedit: no commits between %s and current branch tip", shortID(baseID))
	}

	cmds := make([]worktree.HisteditCmd, 0, len(chain))
	for _, id := range chain {
		verb := worktree.HisteditPick
		if drop[id] {
			verb = worktree.HisteditDrop
		}
		c, err := r.Store.ReadCommit(id)
		if err != nil {
			return fmt.Errorf("histedit: read commit %s: %w", id, err)
		}
		cmds = append(cmds, worktree.HisteditCmd{Verb: verb, CommitID: id, LogLine: firstLine(c.Message)})
	}

	if wt.BaseCommitID != baseID {
		baseCommit, err := r.Store.ReadCommit(baseID)
		if err != nil {
			return fmt.Errorf("histedit: read base commit %s: %w", baseID, err)
		}
		if err := worktree.CheckoutFiles(wt, r.Store, baseCommit.TreeID, baseID, nil, nil, nil); err != nil {
			return err
		}
		if err := wt.SetBaseCommit(baseID); err != nil {
			return err
		}
	}

	if _, err := worktree.HisteditPrepare(wt, r.Store, r, cmds); err != nil {
		return err
	}

	return histeditRun(out, wt, r, false, cmds)
}

// histeditRun drives pending histedit script entries to completion. When
// resuming is true, cmds is re-read from the persisted histedit-script
// meta file instead of being passed in fresh.
func histeditRun(out interface{ Write([]byte) (int, error) }, wt *worktree.Worktree, r *repo.Repo, resuming bool, cmds []worktree.HisteditCmd) error {
	var tmpBranchRef, branchRefName string

	if resuming {
		if !worktree.HisteditInProgress(wt) {
			return fmt.Errorf("histedit: no edit in progress")
		}
		pending, tmp, branch, script, err := worktree.HisteditContinue(wt, r)
		if err != nil {
			return err
		}
		tmpBranchRef, branchRefName, cmds = tmp, branch, script
		if !pending.IsZero() {
			return fmt.Errorf("histedit: commit %s still has unresolved conflicts; fix them and run got commit, then got histedit --continue", shortID(pending))
		}
	} else {
		tmpBranchRef = markerRefForCLI(wt, "histedit-tmp")
		branch, ok, err := r.GetSymrefTarget(markerRefForCLI(wt, "histedit-branch"))
		if err != nil {
			return fmt.Errorf("histedit: read histedit-branch marker: %w", err)
		}
		if !ok {
			return fmt.Errorf("histedit: histedit-branch marker is not a symref")
		}
		branchRefName = branch
	}

	// Progress is measured against the recorded edit base, not the
	// worktree's own base commit: every completed pick advances the
	// latter along the tmp branch.
	editBaseID, err := r.ResolveRef(markerRefForCLI(wt, "histedit-base-commit"))
	if err != nil {
		return fmt.Errorf("histedit: resolve histedit-base-commit marker: %w", err)
	}
	applied, err := countCommits(r, editBaseID, tmpBranchRef)
	if err != nil {
		return err
	}

	produced := 0
	for _, c := range cmds {
		if c.Verb == worktree.HisteditDrop {
			if produced < applied {
				continue
			}
			if err := worktree.HisteditSkipCommit(r, c.CommitID, wt); err != nil {
				return err
			}
			fmt.Fprintf(out, "dropped %s\n", shortID(c.CommitID))
			continue
		}

		if produced < applied {
			produced++
			continue
		}

		commit, err := r.Store.ReadCommit(c.CommitID)
		if err != nil {
			return fmt.Errorf("histedit: read commit %s: %w", c.CommitID, err)
		}

		var parentID, parentTreeID object.ObjectID
		if len(commit.Parents) > 0 {
			parentID = commit.Parents[0]
			parentCommit, err := r.Store.ReadCommit(parentID)
			if err != nil {
				return fmt.Errorf("histedit: read parent commit %s: %w", parentID, err)
			}
			parentTreeID = parentCommit.TreeID
		}

		var pairs []worktree.TreePairEntry
		if err := diffTreesForMerge(r.Store, parentTreeID, commit.TreeID, "", &pairs); err != nil {
			return fmt.Errorf("histedit: diff commit %s: %w", c.CommitID, err)
		}

		merged, err := worktree.HisteditMergeFiles(wt, r.Store, r, c.CommitID, pairs)
		if err != nil {
			return err
		}

		conflicted, err := anyConflicts(wt, r.Store, merged)
		if err != nil {
			return err
		}
		if conflicted {
			fmt.Fprintf(out, "histedit: commit %s conflicted; resolve and run got histedit --continue\n", shortID(c.CommitID))
			return nil
		}

		msgOverride := ""
		if c.Verb == worktree.HisteditMesg {
			msgOverride = c.LogLine
		}

		newID, err := worktree.HisteditCommit(wt, r.Store, r, tmpBranchRef, merged, commit, c.CommitID, msgOverride, time.Now())
		if err != nil {
			if worktree.ErrKind(err) == worktree.KindCommitNoChanges {
				fmt.Fprintf(out, "skipped %s (no changes)\n", shortID(c.CommitID))
				produced++
				continue
			}
			return err
		}
		fmt.Fprintf(out, "picked %s -> %s\n", shortID(c.CommitID), shortID(newID))
		produced++
	}

	if err := worktree.HisteditComplete(wt, r, tmpBranchRef); err != nil {
		return err
	}
	fmt.Fprintf(out, "histedit complete: %s\n", strings.TrimPrefix(branchRefName, "refs/heads/"))
	return nil
}

// ancestryChain returns the commits strictly between baseID (exclusive)
// and tipID (inclusive), oldest first, following first-parent links.
func ancestryChain(r *repo.Repo, tipID, baseID object.ObjectID) ([]object.ObjectID, error) {
	var chain []object.ObjectID
	cur := tipID
	for !cur.IsZero() && cur != baseID {
		chain = append(chain, cur)
		c, err := r.Store.ReadCommit(cur)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", cur, err)
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

// countCommits counts commits strictly between baseID (exclusive) and
// tipRef's resolved tip (inclusive), following first-parent links.
func countCommits(r *repo.Repo, baseID object.ObjectID, tipRef string) (int, error) {
	tip, err := r.ResolveRef(tipRef)
	if err != nil {
		return 0, nil
	}
	n := 0
	cur := tip
	for !cur.IsZero() && cur != baseID {
		n++
		c, err := r.Store.ReadCommit(cur)
		if err != nil {
			return 0, fmt.Errorf("read commit %s: %w", cur, err)
		}
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	return n, nil
}

func markerRefForCLI(wt *worktree.Worktree, suffix string) string {
	return fmt.Sprintf("refs/got-worktree/%s-%s", suffix, wt.UUID)
}
