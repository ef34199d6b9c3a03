package main

import (
	"fmt"
	"time"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var limit int
	var oneline bool

	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show commit history starting at HEAD or a given ref",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}

			start := "HEAD"
			if len(args) == 1 {
				start = args[0]
			}

			id, err := resolveLogStart(r, start)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			visited := map[object.ObjectID]bool{}
			queue := []object.ObjectID{id}
			printed := 0
			for len(queue) > 0 && (limit <= 0 || printed < limit) {
				cur := queue[0]
				queue = queue[1:]
				if cur.IsZero() || visited[cur] {
					continue
				}
				visited[cur] = true

				commit, err := r.Store.ReadCommit(cur)
				if err != nil {
					return fmt.Errorf("log: read commit %s: %w", cur, err)
				}

				if oneline {
					fmt.Fprintf(out, "%s %s\n", shortID(cur), firstLine(commit.Message))
				} else {
					printCommitLong(out, cur, commit)
				}
				printed++

				queue = append(queue, commit.Parents...)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "limit the number of commits shown (0 = unlimited)")
	cmd.Flags().BoolVar(&oneline, "oneline", false, "show one line per commit")

	return cmd
}

// resolveLogStart accepts a ref name, "HEAD", or a raw hex object id.
func resolveLogStart(r *repo.Repo, start string) (object.ObjectID, error) {
	if start == "HEAD" {
		return r.ResolveRef("HEAD")
	}
	if id, err := r.ResolveRef(branchRefName(start)); err == nil {
		return id, nil
	}
	if id, err := object.ParseID(start); err == nil {
		return id, nil
	}
	return r.ResolveRef(start)
}

func printCommitLong(out interface{ Write([]byte) (int, error) }, id object.ObjectID, c *object.Commit) {
	fmt.Fprintf(out, "commit %s\n", id)
	fmt.Fprintf(out, "Author: %s <%s>\n", c.Author.Name, c.Author.Email)
	fmt.Fprintf(out, "Date:   %s %s\n", time.Unix(c.Author.When, 0).UTC().Format("Mon Jan 2 15:04:05 2006"), c.Author.TZOffset)
	if c.SSHSignature != "" {
		fmt.Fprintf(out, "Signed: yes\n")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "    %s\n\n", c.Message)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
