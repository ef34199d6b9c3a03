package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/got/pkg/repo"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty got repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			r, err := repo.Init(abs)
			if err != nil {
				return err
			}
			if branch != "main" {
				if err := r.WriteSymref("HEAD", branchRefName(branch)); err != nil {
					return fmt.Errorf("set initial branch: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty got repository in %s\n", r.GotDir+string(filepath.Separator))
			fmt.Fprintf(cmd.OutOrStdout(), "check out a work tree with 'got checkout %s <dir>'\n", abs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "main", "name of the initial branch")

	return cmd
}
