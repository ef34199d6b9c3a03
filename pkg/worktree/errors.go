package worktree

import (
	"errors"
	"fmt"
)

// errCancelled is the inner error wrapped by KindCancelled errors raised
// when a caller-supplied cancel callback reports true mid-walk.
var errCancelled = errors.New("operation cancelled")

// Kind discriminates the error categories named in the work tree engine's
// error handling design: preconditions, version-control outcomes, and
// environment failures. Callers branch on Kind via errors.As, not on
// string matching.
type Kind int

const (
	KindUnknown Kind = iota

	// Preconditions
	KindNotWorktree
	KindWorktreeBusy
	KindWorktreeMeta
	KindWorktreeVers
	KindWorktreeRepo
	KindMixedCommits
	KindConflicts
	KindStagedPaths
	KindFileStaged
	KindFileModified
	KindFileStatus
	KindFileObstructed
	KindBadSymlink
	KindSameBranch

	// Version control outcomes
	KindCommitOutOfDate
	KindCommitHeadChanged
	KindCommitNoChanges
	KindCommitMsgEmpty
	KindCommitConflict
	KindRebaseOutOfDate
	KindRebaseCommitID
	KindStageOutOfDate
	KindStageConflict
	KindStageNoChange
	KindFileNotStaged
	KindNoMergedPaths
	KindTreeDupEntry
	KindNoTreeEntry
	KindPatchChoice
	KindHisteditCommitID

	// Environment
	KindIO
	KindNoSpace
	KindBadPath
	KindNotAbsPath
	KindNoObj
	KindBadObjIDStr
	KindObjType
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotWorktree:
		return "NOT_WORKTREE"
	case KindWorktreeBusy:
		return "WORKTREE_BUSY"
	case KindWorktreeMeta:
		return "WORKTREE_META"
	case KindWorktreeVers:
		return "WORKTREE_VERS"
	case KindWorktreeRepo:
		return "WORKTREE_REPO"
	case KindMixedCommits:
		return "MIXED_COMMITS"
	case KindConflicts:
		return "CONFLICTS"
	case KindStagedPaths:
		return "STAGED_PATHS"
	case KindFileStaged:
		return "FILE_STAGED"
	case KindFileModified:
		return "FILE_MODIFIED"
	case KindFileStatus:
		return "FILE_STATUS"
	case KindFileObstructed:
		return "FILE_OBSTRUCTED"
	case KindBadSymlink:
		return "BAD_SYMLINK"
	case KindSameBranch:
		return "SAME_BRANCH"
	case KindCommitOutOfDate:
		return "COMMIT_OUT_OF_DATE"
	case KindCommitHeadChanged:
		return "COMMIT_HEAD_CHANGED"
	case KindCommitNoChanges:
		return "COMMIT_NO_CHANGES"
	case KindCommitMsgEmpty:
		return "COMMIT_MSG_EMPTY"
	case KindCommitConflict:
		return "COMMIT_CONFLICT"
	case KindRebaseOutOfDate:
		return "REBASE_OUT_OF_DATE"
	case KindRebaseCommitID:
		return "REBASE_COMMITID"
	case KindStageOutOfDate:
		return "STAGE_OUT_OF_DATE"
	case KindStageConflict:
		return "STAGE_CONFLICT"
	case KindStageNoChange:
		return "STAGE_NO_CHANGE"
	case KindFileNotStaged:
		return "FILE_NOT_STAGED"
	case KindNoMergedPaths:
		return "NO_MERGED_PATHS"
	case KindTreeDupEntry:
		return "TREE_DUP_ENTRY"
	case KindNoTreeEntry:
		return "NO_TREE_ENTRY"
	case KindPatchChoice:
		return "PATCH_CHOICE"
	case KindHisteditCommitID:
		return "HISTEDIT_COMMITID"
	case KindIO:
		return "IO"
	case KindNoSpace:
		return "NO_SPACE"
	case KindBadPath:
		return "BAD_PATH"
	case KindNotAbsPath:
		return "NOT_ABSPATH"
	case KindNoObj:
		return "NO_OBJ"
	case KindBadObjIDStr:
		return "BAD_OBJ_ID_STR"
	case KindObjType:
		return "OBJ_TYPE"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an inner error with a discriminable Kind, the failing
// operation name, and the path involved (if any).
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func wrapf(kind Kind, op, path string, format string, args ...any) *Error {
	return newErr(kind, op, path, fmt.Errorf(format, args...))
}

// ErrKind unwraps err looking for a *Error and reports its Kind, or
// KindUnknown when err does not wrap one. Callers that need to branch on
// a specific outcome (e.g. COMMIT_NO_CHANGES being a soft stop rather
// than a hard failure) use this instead of string matching.
func ErrKind(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindUnknown
}
