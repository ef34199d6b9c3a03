package worktree

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/got/pkg/object"
)

// TreeDiffCallbacks are invoked by DiffTree for each path encountered
// while merge-joining the index against an in-repository tree, in
// ascending path order.
type TreeDiffCallbacks struct {
	OldNew func(ie *Entry, te *object.TreeEntry, parentPath string) error
	Old    func(ie *Entry, parentPath string) error
	New    func(te *object.TreeEntry, parentPath string) error
}

type treeReader interface {
	ReadTree(id object.ObjectID) (*object.Tree, error)
}

// DiffTree merge-joins fi against tree rooted at relPath, recursing into
// matching directories and skipping submodules (gitlink mode) entirely.
func (fi *FileIndex) DiffTree(store treeReader, tree *object.Tree, relPath string, cb TreeDiffCallbacks, cancel func() bool) error {
	children := fi.childrenAt(relPath)

	names := make(map[string]struct{}, len(children)+len(tree.Entries))
	for name := range children {
		names[name] = struct{}{}
	}
	for _, te := range tree.Entries {
		names[te.Name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		if cancel != nil && cancel() {
			return newErr(KindCancelled, "diff tree", relPath, errCancelled)
		}

		child := children[name]
		te, hasTree := tree.Find(name)
		subPath := joinRepoPath(relPath, name)

		switch {
		case child != nil && hasTree:
			if te.Mode.IsSubmodule() {
				continue
			}
			if child.isLeaf && !te.Mode.IsDir() {
				if cb.OldNew != nil {
					if err := cb.OldNew(child.entry, &te, relPath); err != nil {
						return err
					}
				}
				continue
			}
			if te.Mode.IsDir() {
				subTree, err := store.ReadTree(te.ID)
				if err != nil {
					return wrapf(KindNoObj, "diff tree", subPath, "read subtree: %w", err)
				}
				if err := fi.DiffTree(store, subTree, subPath, cb, cancel); err != nil {
					return err
				}
				continue
			}
			// Index side is a subtree of files, tree side is a leaf:
			// the whole subtree was replaced by a blob/symlink.
			if err := fi.diffOldAll(subPath, cb, cancel); err != nil {
				return err
			}
			if cb.New != nil {
				if err := cb.New(&te, relPath); err != nil {
					return err
				}
			}

		case child != nil && !hasTree:
			if child.isLeaf {
				if cb.Old != nil {
					if err := cb.Old(child.entry, relPath); err != nil {
						return err
					}
				}
				continue
			}
			if err := fi.diffOldAll(subPath, cb, cancel); err != nil {
				return err
			}

		case child == nil && hasTree:
			if te.Mode.IsSubmodule() {
				continue
			}
			if te.Mode.IsDir() {
				subTree, err := store.ReadTree(te.ID)
				if err != nil {
					return wrapf(KindNoObj, "diff tree", subPath, "read subtree: %w", err)
				}
				if err := fi.DiffTree(store, subTree, subPath, cb, cancel); err != nil {
					return err
				}
				continue
			}
			if cb.New != nil {
				if err := cb.New(&te, relPath); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// diffOldAll reports every tracked path under the subtree rooted at
// prefix as index-only (the reference tree has nothing there).
func (fi *FileIndex) diffOldAll(prefix string, cb TreeDiffCallbacks, cancel func() bool) error {
	if cb.Old == nil {
		return nil
	}
	dirPrefix := prefix + "/"
	for _, p := range fi.order {
		if prefix != "" && !strings.HasPrefix(p, dirPrefix) {
			continue
		}
		if cancel != nil && cancel() {
			return newErr(KindCancelled, "diff tree", p, errCancelled)
		}
		e := fi.byPath[p]
		parent := path.Dir(p)
		if parent == "." {
			parent = ""
		}
		if err := cb.Old(e, parent); err != nil {
			return err
		}
	}
	return nil
}

type childInfo struct {
	isLeaf bool
	entry  *Entry
}

// childrenAt returns, for each immediate child name under relPath, whether
// the index holds it as a leaf (a tracked file at exactly that path) or as
// a subtree (deeper tracked paths exist underneath it).
func (fi *FileIndex) childrenAt(relPath string) map[string]*childInfo {
	children := make(map[string]*childInfo)
	prefix := ""
	if relPath != "" {
		prefix = relPath + "/"
	}

	for _, p := range fi.order {
		if prefix != "" {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			children[rest] = &childInfo{isLeaf: true, entry: fi.byPath[p]}
		} else {
			name := rest[:slash]
			if _, ok := children[name]; !ok {
				children[name] = &childInfo{isLeaf: false}
			}
		}
	}
	return children
}

func joinRepoPath(relPath, name string) string {
	if relPath == "" {
		return name
	}
	return relPath + "/" + name
}

// DirDiffCallbacks are invoked by DiffDir for each path encountered while
// merge-joining the index against an on-disk directory.
type DirDiffCallbacks struct {
	OldNew   func(ie *Entry, absPath string, fi os.FileInfo) error
	Old      func(ie *Entry) error
	New      func(name, absPath string, fi os.FileInfo) error
	Traverse func(relPath, absPath string) error
}

// DiffDir merge-joins fi against the on-disk directory tree rooted at
// root (the work tree root). Entries are visited in ascending path order.
// Paths are lstat'd by full path; the worktree engine is single-threaded
// and holds the worktree lock, so no concurrent rename can redirect a
// lookup mid-walk.
func (fi *FileIndex) DiffDir(root, relPath string, cb DirDiffCallbacks, cancel func() bool) error {
	absDir := root
	if relPath != "" {
		absDir = joinOSPath(root, relPath)
	}

	dirents, err := os.ReadDir(absDir)
	if err != nil && !os.IsNotExist(err) {
		return wrapf(KindIO, "diff dir", absDir, "read dir: %w", err)
	}

	onDisk := make(map[string]os.DirEntry, len(dirents))
	for _, d := range dirents {
		onDisk[d.Name()] = d
	}

	children := fi.childrenAt(relPath)

	names := make(map[string]struct{}, len(children)+len(onDisk))
	for n := range children {
		names[n] = struct{}{}
	}
	for n := range onDisk {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		if cancel != nil && cancel() {
			return newErr(KindCancelled, "diff dir", name, errCancelled)
		}

		child := children[name]
		dirent, hasDirent := onDisk[name]
		subRel := joinRepoPath(relPath, name)
		subAbs := joinOSPath(root, subRel)

		switch {
		case child != nil && hasDirent:
			info, statErr := dirent.Info()
			if statErr != nil {
				return wrapf(KindIO, "diff dir", subAbs, "stat: %w", statErr)
			}
			if child.isLeaf {
				if cb.OldNew != nil {
					if err := cb.OldNew(child.entry, subAbs, info); err != nil {
						return err
					}
				}
				continue
			}
			if info.IsDir() {
				if cb.Traverse != nil {
					if err := cb.Traverse(subRel, subAbs); err != nil {
						return err
					}
				}
				if err := fi.DiffDir(root, subRel, cb, cancel); err != nil {
					return err
				}
				continue
			}
			// Index holds a subtree here, but disk has a file: treat the
			// whole subtree as missing, then report the file as new.
			if err := fi.diffOldAll(subRel, TreeDiffCallbacks{Old: func(ie *Entry, _ string) error {
				if cb.Old != nil {
					return cb.Old(ie)
				}
				return nil
			}}, cancel); err != nil {
				return err
			}
			if cb.New != nil {
				if err := cb.New(name, subAbs, info); err != nil {
					return err
				}
			}

		case child != nil && !hasDirent:
			if child.isLeaf {
				if cb.Old != nil {
					if err := cb.Old(child.entry); err != nil {
						return err
					}
				}
				continue
			}
			if err := fi.diffOldAll(subRel, TreeDiffCallbacks{Old: func(ie *Entry, _ string) error {
				if cb.Old != nil {
					return cb.Old(ie)
				}
				return nil
			}}, cancel); err != nil {
				return err
			}

		case child == nil && hasDirent:
			info, statErr := dirent.Info()
			if statErr != nil {
				return wrapf(KindIO, "diff dir", subAbs, "stat: %w", statErr)
			}
			if info.IsDir() {
				if cb.Traverse != nil {
					if err := cb.Traverse(subRel, subAbs); err != nil {
						return err
					}
				}
				if err := fi.DiffDir(root, subRel, cb, cancel); err != nil {
					return err
				}
				continue
			}
			if cb.New != nil {
				if err := cb.New(name, subAbs, info); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func joinOSPath(root, relPath string) string {
	if relPath == "" {
		return root
	}
	return root + string(os.PathSeparator) + strings.ReplaceAll(relPath, "/", string(os.PathSeparator))
}
