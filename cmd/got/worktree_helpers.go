package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
)

// openWorktree opens the work tree rooted at or above the current
// directory and the repository it was checked out from.
func openWorktree() (*worktree.Worktree, *repo.Repo, error) {
	wt, err := worktree.Open(".")
	if err != nil {
		return nil, nil, err
	}
	r, err := repo.Open(wt.RepoPath)
	if err != nil {
		wt.Close()
		return nil, nil, fmt.Errorf("open repository %s: %w", wt.RepoPath, err)
	}
	return wt, r, nil
}

// openRepo resolves the repository for commands that do not touch the
// work tree: inside a checked-out work tree it follows the worktree's
// repository pointer, otherwise it walks up from the current directory
// looking for a .got repository.
func openRepo() (*repo.Repo, error) {
	if wt, err := worktree.Open("."); err == nil {
		repoPath := wt.RepoPath
		wt.Close()
		return repo.Open(repoPath)
	}
	return repo.Open(".")
}

// currentSignature builds the author/committer signature CLI commands
// stamp on new commits. Precedence: the --author flag, then
// got.conf's [author] section (read from wt's meta directory), then
// $USER, then "unknown"; email is populated only from got.conf, since
// neither the flag nor $USER carries one.
func currentSignature(wt *worktree.Worktree, override string) object.Signature {
	name := strings.TrimSpace(override)
	email := ""
	if name == "" {
		if cfg, err := worktree.ReadConfig(wt.MetaDir); err == nil {
			name = strings.TrimSpace(cfg.Author.Name)
			email = strings.TrimSpace(cfg.Author.Email)
		}
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "unknown"
	}
	now := time.Now()
	_, offset := now.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return object.Signature{
		Name:     name,
		Email:    email,
		When:     now.Unix(),
		TZOffset: fmt.Sprintf("%s%02d%02d", sign, offset/3600, (offset%3600)/60),
	}
}

// shortID renders the first 8 hex characters of an object id for
// human-readable command output.
func shortID(id object.ObjectID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// branchRefName normalizes a user-supplied branch name or ref into a
// fully qualified refs/heads/... name, passing already-qualified refs
// through unchanged.
func branchRefName(name string) string {
	if strings.HasPrefix(name, "refs/") {
		return name
	}
	return "refs/heads/" + name
}
