package main

import (
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <files...>",
		Short: "Record a durable staged change for tracked paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			head, err := r.ResolveRef(wt.HeadRefName)
			if err != nil {
				return err
			}

			for _, path := range args {
				wtRelPath, _, err := wt.ResolvePath(path)
				if err != nil {
					return err
				}
				if err := worktree.CheckStageOk(r.Store, r.Store, wt, wtRelPath, head); err != nil {
					return err
				}
				if err := worktree.StagePath(wt, r.Store, wtRelPath, nil); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
