package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show work tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "on %s\n", strings.TrimPrefix(wt.HeadRefName, "refs/heads/"))

			var conflicts, staged, unstaged []string
			err = wt.Index().ForEachEntrySafe(func(e *worktree.Entry) error {
				absPath := filepath.Join(wt.RootPath, filepath.FromSlash(e.Path))
				status, _, err := worktree.GetFileStatus(e, r.Store, absPath)
				if err != nil {
					return err
				}

				if status == worktree.StatusConflict {
					conflicts = append(conflicts, e.Path)
					return nil
				}
				if e.Stage != worktree.StageNone {
					staged = append(staged, fmt.Sprintf("%s %s", stageGlyph(e.Stage), e.Path))
				}
				if status != worktree.StatusNoChange {
					unstaged = append(unstaged, fmt.Sprintf("%s %s", statusGlyph(status), e.Path))
				}
				return nil
			})
			if err != nil {
				return err
			}

			unversioned, err := collectUnversioned(wt)
			if err != nil {
				return err
			}

			printStatusGroup(out, "conflicts", conflicts)
			printStatusGroup(out, "staged", staged)
			printStatusGroup(out, "unstaged", unstaged)
			printStatusGroup(out, "unversioned", unversioned)
			return nil
		},
	}
}

// collectUnversioned walks the work tree's on-disk files that have no
// index entry, via DiffDir's "new" callback, skipping the meta directory
// and anything matched by .gotignore (and the hardcoded .got/.git
// patterns NewIgnoreChecker always applies).
func collectUnversioned(wt *worktree.Worktree) ([]string, error) {
	ic := repo.NewIgnoreChecker(wt.RootPath)
	metaRel := filepath.Base(wt.MetaDir)

	var unversioned []string
	err := wt.Index().DiffDir(wt.RootPath, "", worktree.DirDiffCallbacks{
		New: func(name, absPath string, fi os.FileInfo) error {
			rel, relErr := filepath.Rel(wt.RootPath, absPath)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if rel == metaRel || strings.HasPrefix(rel, metaRel+"/") {
				return nil
			}
			if ic.IsIgnored(rel) {
				return nil
			}
			if !fi.IsDir() {
				unversioned = append(unversioned, rel)
			}
			return nil
		},
	}, nil)
	if err != nil {
		return nil, err
	}
	return unversioned, nil
}

func printStatusGroup(out interface{ Write([]byte) (int, error) }, label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", label)
	for _, l := range lines {
		fmt.Fprintf(out, "  %s\n", l)
	}
}

func statusGlyph(s worktree.Status) string {
	switch s {
	case worktree.StatusAdd:
		return "A"
	case worktree.StatusModify:
		return "M"
	case worktree.StatusModeChange:
		return "m"
	case worktree.StatusDelete:
		return "D"
	case worktree.StatusMissing:
		return "!"
	default:
		return " "
	}
}

func stageGlyph(s worktree.StageTag) string {
	switch s {
	case worktree.StageAdd:
		return "A"
	case worktree.StageModify:
		return "M"
	case worktree.StageDelete:
		return "D"
	default:
		return " "
	}
}
