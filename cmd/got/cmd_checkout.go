package main

import (
	"fmt"
	"path/filepath"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "checkout <repo-path> [worktree-path]",
		Short: "Check out a new work tree from a repository",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := args[0]
			worktreePath := "."
			if len(args) == 2 {
				worktreePath = args[1]
			} else {
				worktreePath = filepath.Base(filepath.Clean(repoPath)) + "-wt"
			}

			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}

			if branch == "" {
				head, err := r.Head()
				if err != nil {
					return fmt.Errorf("resolve HEAD: %w", err)
				}
				branch = head
			}
			refName := branchRefName(branch)

			var headCommitID object.ObjectID
			if id, err := r.ResolveRef(refName); err == nil {
				headCommitID = id
			}

			wt, err := worktree.Init(worktreePath, repoPath, "", refName, headCommitID)
			if err != nil {
				return err
			}
			defer wt.Close()

			if !headCommitID.IsZero() {
				commit, err := r.Store.ReadCommit(headCommitID)
				if err != nil {
					return fmt.Errorf("read commit %s: %w", headCommitID, err)
				}
				progress := func(status worktree.Status, path string) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", checkoutGlyph(status), path)
					return err
				}
				if err := worktree.CheckoutFiles(wt, r.Store, commit.TreeID, headCommitID, nil, progress, nil); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "checked out %s into %s\n", refName, wt.RootPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to check out (default: repository HEAD)")
	return cmd
}

// checkoutGlyph maps a per-path checkout status to the single-letter
// prefix printed ahead of the path.
func checkoutGlyph(s worktree.Status) string {
	switch s {
	case worktree.StatusAdd:
		return "A"
	case worktree.StatusExists:
		return "E"
	case worktree.StatusUpdate:
		return "U"
	case worktree.StatusMerge:
		return "G"
	case worktree.StatusConflict:
		return "C"
	case worktree.StatusDelete:
		return "D"
	case worktree.StatusModeChange:
		return "m"
	case worktree.StatusObstructed:
		return "~"
	case worktree.StatusUnversioned:
		return "?"
	case worktree.StatusCannotUpdate:
		return "!"
	default:
		return " "
	}
}
