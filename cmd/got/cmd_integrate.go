package main

import (
	"fmt"
	"strings"

	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newIntegrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrate <branch>",
		Short: "Fast-forward the current branch to another branch's tip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			sourceRef := branchRefName(args[0])
			if err := worktree.Integrate(wt, r.Store, r, wt.HeadRefName, sourceRef, nil); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "integrated %s into %s\n",
				strings.TrimPrefix(sourceRef, "refs/heads/"),
				strings.TrimPrefix(wt.HeadRefName, "refs/heads/"))
			return nil
		},
	}
}
