package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/odvcencio/got/pkg/diff3"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

const lineDiffContextLines = 3

func newDiffCmd() *cobra.Command {
	var staged bool

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show changes between working tree, stage, and HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			if staged {
				return diffStaged(cmd, wt, r)
			}
			return diffUnstaged(cmd, wt, r)
		},
	}

	cmd.Flags().BoolVar(&staged, "staged", false, "show staged changes (stage vs HEAD)")

	return cmd
}

// diffUnstaged compares each tracked path's on-disk content against its
// most recently recorded version: the durable staged blob if one is
// pending, otherwise the blob recorded at checkout/last sync.
func diffUnstaged(cmd *cobra.Command, wt *worktree.Worktree, r *repo.Repo) error {
	out := cmd.OutOrStdout()

	return wt.Index().ForEachEntrySafe(func(e *worktree.Entry) error {
		baseID := e.BlobID
		if e.Stage != worktree.StageNone && !e.StagedBlobID.IsZero() {
			baseID = e.StagedBlobID
		}

		var before []byte
		if !baseID.IsZero() {
			blob, err := r.Store.ReadBlob(baseID)
			if err != nil {
				return fmt.Errorf("diff: read blob %s: %w", e.Path, err)
			}
			before = blob.Data
		}

		absPath := filepath.Join(wt.RootPath, filepath.FromSlash(e.Path))
		after, err := os.ReadFile(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				if before == nil {
					return nil
				}
				return printLineDiff(out, e.Path, before, nil)
			}
			return fmt.Errorf("diff: read %s: %w", e.Path, err)
		}

		return printLineDiff(out, e.Path, before, after)
	})
}

// diffStaged compares the durably staged blob for each path against the
// blob (if any) recorded for that path at HEAD.
func diffStaged(cmd *cobra.Command, wt *worktree.Worktree, r *repo.Repo) error {
	out := cmd.OutOrStdout()

	head, headErr := r.ResolveRef(wt.HeadRefName)

	return wt.Index().ForEachEntrySafe(func(e *worktree.Entry) error {
		if e.Stage == worktree.StageNone {
			return nil
		}

		var before []byte
		if headErr == nil {
			if id, _, ok, err := r.Store.IDByPath(head, e.Path); err == nil && ok {
				blob, err := r.Store.ReadBlob(id)
				if err != nil {
					return fmt.Errorf("diff: read HEAD blob %s: %w", e.Path, err)
				}
				before = blob.Data
			}
		}

		var after []byte
		if e.Stage != worktree.StageDelete && !e.StagedBlobID.IsZero() {
			blob, err := r.Store.ReadBlob(e.StagedBlobID)
			if err != nil {
				return fmt.Errorf("diff: read staged blob %s: %w", e.Path, err)
			}
			after = blob.Data
		}

		return printLineDiff(out, e.Path, before, after)
	})
}

// printLineDiff prints a unified-style line diff for a single file.
// before or after may be nil for additions and deletions respectively.
func printLineDiff(out io.Writer, path string, before, after []byte) error {
	if before == nil {
		before = []byte{}
	}
	if after == nil {
		after = []byte{}
	}

	if bytes.Equal(before, after) {
		return nil
	}

	fmt.Fprintf(out, "diff --got a/%s b/%s\n", path, path)
	fmt.Fprintf(out, "--- a/%s\n", path)
	fmt.Fprintf(out, "+++ b/%s\n", path)

	lines := diff3.LineDiff(before, after)
	for _, h := range buildLineDiffHunks(lines, lineDiffContextLines) {
		oldStart, oldCount, newStart, newCount := h.lineRange(lines)
		fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)

		for _, dl := range lines[h.start:h.end] {
			switch dl.Type {
			case diff3.Equal:
				fmt.Fprintf(out, " %s\n", dl.Content)
			case diff3.Insert:
				fmt.Fprintf(out, "+%s\n", dl.Content)
			case diff3.Delete:
				fmt.Fprintf(out, "-%s\n", dl.Content)
			}
		}
	}

	return nil
}

type lineDiffHunk struct {
	start int
	end   int
}

func buildLineDiffHunks(lines []diff3.DiffLine, contextLines int) []lineDiffHunk {
	if contextLines < 0 {
		contextLines = 0
	}

	var hunks []lineDiffHunk
	for i, dl := range lines {
		if dl.Type == diff3.Equal {
			continue
		}

		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines + 1
		if end > len(lines) {
			end = len(lines)
		}

		if len(hunks) == 0 || start > hunks[len(hunks)-1].end {
			hunks = append(hunks, lineDiffHunk{start: start, end: end})
			continue
		}
		if end > hunks[len(hunks)-1].end {
			hunks[len(hunks)-1].end = end
		}
	}

	return hunks
}

func (h lineDiffHunk) lineRange(lines []diff3.DiffLine) (oldStart, oldCount, newStart, newCount int) {
	oldLine, newLine := 1, 1
	for i := 0; i < h.start; i++ {
		switch lines[i].Type {
		case diff3.Equal:
			oldLine++
			newLine++
		case diff3.Delete:
			oldLine++
		case diff3.Insert:
			newLine++
		}
	}

	oldStart, newStart = oldLine, newLine

	for i := h.start; i < h.end; i++ {
		switch lines[i].Type {
		case diff3.Equal:
			oldCount++
			newCount++
			oldLine++
			newLine++
		case diff3.Delete:
			oldCount++
			oldLine++
		case diff3.Insert:
			newCount++
			newLine++
		}
	}

	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}

	return oldStart, oldCount, newStart, newCount
}
