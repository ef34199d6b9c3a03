package main

import (
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newUnstageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage [files...]",
		Short: "Reverse a recorded staged change",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			var wtRelPaths []string
			if len(args) == 0 {
				err := wt.Index().ForEachEntrySafe(func(e *worktree.Entry) error {
					if e.Stage != worktree.StageNone {
						wtRelPaths = append(wtRelPaths, e.Path)
					}
					return nil
				})
				if err != nil {
					return err
				}
			} else {
				for _, path := range args {
					wtRelPath, _, err := wt.ResolvePath(path)
					if err != nil {
						return err
					}
					wtRelPaths = append(wtRelPaths, wtRelPath)
				}
			}

			for _, wtRelPath := range wtRelPaths {
				if err := worktree.UnstagePath(wt, r.Store, wtRelPath, nil); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
