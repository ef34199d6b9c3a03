package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "rm [--cached] <files...>",
		Short: "Remove files from the work tree and stage the deletion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, _, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			for _, path := range args {
				if err := wt.ScheduleDelete(path); err != nil {
					return err
				}
				if !cached {
					wtRelPath, _, err := wt.ResolvePath(path)
					if err != nil {
						return err
					}
					absPath := filepath.Join(wt.RootPath, filepath.FromSlash(wtRelPath))
					if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "remove from index only, keep files on disk")
	return cmd
}
