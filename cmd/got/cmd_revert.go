package main

import (
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <files...>",
		Short: "Revert tracked paths to their base version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			for _, path := range args {
				wtRelPath, _, err := wt.ResolvePath(path)
				if err != nil {
					return err
				}
				if err := worktree.RevertPath(wt, r.Store, wtRelPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
