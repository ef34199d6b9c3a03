package worktree

import (
	"fmt"
)

// Integrate fast-forwards the worktree's current branch to the tip of
// sourceBranchRef and checks out the resulting tree. Both refs are
// locked for the duration via headResolver's CAS semantics; integrating
// a branch into itself is refused outright.
func Integrate(wt *Worktree, store objectStore, repo headResolver, currentBranchRef, sourceBranchRef string, cancel func() bool) error {
	if currentBranchRef == sourceBranchRef {
		return newErr(KindSameBranch, "integrate", sourceBranchRef, fmt.Errorf("cannot integrate a branch into itself"))
	}

	currentHead, err := repo.ResolveRef(currentBranchRef)
	if err != nil {
		return wrapf(KindIO, "integrate", currentBranchRef, "resolve: %w", err)
	}
	sourceHead, err := repo.ResolveRef(sourceBranchRef)
	if err != nil {
		return wrapf(KindIO, "integrate", sourceBranchRef, "resolve: %w", err)
	}
	if currentHead == sourceHead {
		return nil // already integrated.
	}

	sourceCommit, err := store.ReadCommit(sourceHead)
	if err != nil {
		return wrapf(KindNoObj, "integrate", sourceBranchRef, "read commit: %w", err)
	}

	if err := repo.UpdateRefCAS(currentBranchRef, sourceHead, currentHead); err != nil {
		return wrapf(KindIO, "integrate", currentBranchRef, "fast-forward: %w", err)
	}

	if err := CheckoutFiles(wt, store, sourceCommit.TreeID, sourceHead, nil, nil, cancel); err != nil {
		return err
	}

	return wt.SetBaseCommit(sourceHead)
}
