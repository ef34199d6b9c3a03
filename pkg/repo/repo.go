package repo

import "github.com/odvcencio/got/pkg/object"

// Repo is an opened got repository: the .got/ meta directory holding the
// loose-object store, refs, and reflogs. It carries no worktree state;
// work trees are checked out elsewhere and point back at the repository
// by path.
type Repo struct {
	RootDir string        // directory containing .got/
	GotDir  string        // the .got/ meta directory itself
	Store   *object.Store // content-addressed loose-object store
}
