package main

import (
	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <files...>",
		Short: "Schedule untracked files for addition",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			for _, path := range args {
				if err := wt.ScheduleAdd(path, r.Store); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
