package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge another branch's changes into the current work tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			sourceRef := branchRefName(args[0])
			sourceID, err := r.ResolveRef(sourceRef)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", sourceRef, err)
			}

			currentID, err := r.ResolveRef(wt.HeadRefName)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", wt.HeadRefName, err)
			}

			baseID, err := findMergeBase(r.Store, currentID, sourceID)
			if err != nil {
				return fmt.Errorf("find merge base: %w", err)
			}

			var baseTreeID, sourceTreeID object.ObjectID
			if !baseID.IsZero() {
				baseCommit, err := r.Store.ReadCommit(baseID)
				if err != nil {
					return fmt.Errorf("read merge base commit: %w", err)
				}
				baseTreeID = baseCommit.TreeID
			}
			if !sourceID.IsZero() {
				sourceCommit, err := r.Store.ReadCommit(sourceID)
				if err != nil {
					return fmt.Errorf("read %s: %w", sourceRef, err)
				}
				sourceTreeID = sourceCommit.TreeID
			}

			var pairs []worktree.TreePairEntry
			if err := diffTreesForMerge(r.Store, baseTreeID, sourceTreeID, "", &pairs); err != nil {
				return fmt.Errorf("diff trees: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "merging %s into %s...\n", strings.TrimPrefix(sourceRef, "refs/heads/"), strings.TrimPrefix(wt.HeadRefName, "refs/heads/"))

			progress := func(status worktree.Status, path string) error {
				if status == worktree.StatusCannotDelete {
					_, err := fmt.Fprintf(out, "  d  %s (local changes, not deleted)\n", path)
					return err
				}
				return nil
			}
			if err := worktree.MergeFiles(wt, r.Store, pairs, shortID(sourceID), progress, nil); err != nil {
				return err
			}

			conflicts := 0
			_ = wt.Index().ForEachEntrySafe(func(e *worktree.Entry) error {
				absPath := filepath.Join(wt.RootPath, filepath.FromSlash(e.Path))
				status, _, err := worktree.GetFileStatus(e, r.Store, absPath)
				if err != nil {
					return nil
				}
				if status == worktree.StatusConflict {
					conflicts++
					fmt.Fprintf(out, "  C  %s\n", e.Path)
				}
				return nil
			})

			if conflicts > 0 {
				fmt.Fprintf(out, "merge completed with %d conflict", conflicts)
				if conflicts != 1 {
					fmt.Fprint(out, "s")
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "fix conflicts and run got commit")
			} else {
				fmt.Fprintln(out, "merge completed cleanly, run got commit to record it")
			}
			return nil
		},
	}
}

// findMergeBase locates a common ancestor of a and b by collecting every
// ancestor of a, then walking b's ancestry until one is found. It is not
// guaranteed to be the nearest common ancestor in a diverged DAG, only a
// valid one; the history got worktrees produce via CommitWorktree is
// single-parent, so the two coincide in the common case.
func findMergeBase(store interface {
	ReadCommit(object.ObjectID) (*object.Commit, error)
}, a, b object.ObjectID) (object.ObjectID, error) {
	if a.IsZero() || b.IsZero() {
		return object.ObjectID{}, nil
	}
	if a == b {
		return a, nil
	}

	ancestorsOfA := map[object.ObjectID]bool{}
	queue := []object.ObjectID{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestorsOfA[id] {
			continue
		}
		ancestorsOfA[id] = true
		c, err := store.ReadCommit(id)
		if err != nil {
			return object.ObjectID{}, err
		}
		queue = append(queue, c.Parents...)
	}

	visited := map[object.ObjectID]bool{}
	queue = []object.ObjectID{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		if ancestorsOfA[id] {
			return id, nil
		}
		c, err := store.ReadCommit(id)
		if err != nil {
			return object.ObjectID{}, err
		}
		queue = append(queue, c.Parents...)
	}
	return object.ObjectID{}, nil
}

// diffTreesForMerge walks baseTreeID (ancestor) against targetTreeID
// (incoming branch tip) and appends a TreePairEntry for every path that
// differs in at least one of them, recursing into matching directories
// and skipping submodule entries entirely.
func diffTreesForMerge(store interface {
	ReadTree(object.ObjectID) (*object.Tree, error)
}, baseTreeID, targetTreeID object.ObjectID, prefix string, out *[]worktree.TreePairEntry) error {
	baseByName := map[string]object.TreeEntry{}
	if !baseTreeID.IsZero() {
		t, err := store.ReadTree(baseTreeID)
		if err != nil {
			return err
		}
		for _, e := range t.Entries {
			baseByName[e.Name] = e
		}
	}
	targetByName := map[string]object.TreeEntry{}
	if !targetTreeID.IsZero() {
		t, err := store.ReadTree(targetTreeID)
		if err != nil {
			return err
		}
		for _, e := range t.Entries {
			targetByName[e.Name] = e
		}
	}

	names := make(map[string]struct{}, len(baseByName)+len(targetByName))
	for name := range baseByName {
		names[name] = struct{}{}
	}
	for name := range targetByName {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		be, hasBase := baseByName[name]
		te, hasTarget := targetByName[name]
		if (hasBase && be.Mode.IsSubmodule()) || (hasTarget && te.Mode.IsSubmodule()) {
			continue
		}

		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		baseIsDir := hasBase && be.Mode.IsDir()
		targetIsDir := hasTarget && te.Mode.IsDir()
		if baseIsDir || targetIsDir {
			var baseSub, targetSub object.ObjectID
			if baseIsDir {
				baseSub = be.ID
			}
			if targetIsDir {
				targetSub = te.ID
			}
			if err := diffTreesForMerge(store, baseSub, targetSub, path, out); err != nil {
				return err
			}
			continue
		}

		if !hasBase && !hasTarget {
			continue
		}
		if hasBase && hasTarget && be.ID == te.ID && be.Mode == te.Mode {
			continue
		}

		p := worktree.TreePairEntry{Path: path}
		if hasBase {
			p.Mode1, p.ID1, p.HasBlob1 = be.Mode, be.ID, true
		}
		if hasTarget {
			p.Mode2, p.ID2, p.HasBlob2 = te.Mode, te.ID, true
		}
		*out = append(*out, p)
	}
	return nil
}
