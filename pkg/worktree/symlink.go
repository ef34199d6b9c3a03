package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// pathMax bounds symlink target length; Go has no portable PATH_MAX
// constant, so the conventional Linux value is used.
const pathMax = 4096

// IsBadSymlink reports whether target, if installed at path inside a
// work tree rooted at rootPath with meta directory metaDir, would point
// outside the work tree or into its meta directory, or is simply too
// long to be a well-formed symlink target.
func IsBadSymlink(rootPath, metaDir, path, target string) bool {
	if len(target) >= pathMax {
		return true
	}

	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(path), resolved)
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(rootPath, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(rootPath, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return true
	}

	metaRel, err := filepath.Rel(rootPath, metaDir)
	if err == nil {
		if rel == metaRel || strings.HasPrefix(rel, metaRel+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// ErrSymlinkPathUnversioned is returned by InstallSymlink when a target
// path collides with an existing on-disk entry that is not tracked by
// the index; callers report this as StatusUnversioned rather than
// overwriting a file the user never asked to touch.
var ErrSymlinkPathUnversioned = errors.New("path exists and is unversioned")

// InstallSymlink creates a symlink at absPath pointing at target. A bad
// target (per IsBadSymlink) is instead written as a regular file holding
// the literal target text, and the caller must record the resulting
// entry's file type as bad-symlink. pathIsUnversioned must be true when
// absPath has no corresponding index entry; on an EEXIST collision this
// reports ErrSymlinkPathUnversioned instead of replacing a file that was
// never tracked.
func InstallSymlink(rootPath, metaDir, absPath, relPath, target string, pathIsUnversioned bool) (fileType FileType, err error) {
	bad := IsBadSymlink(rootPath, metaDir, relPath, target)
	if bad {
		if err := writeFileAtomic(absPath, []byte(target), 0o644); err != nil {
			return FileTypeBadSymlink, err
		}
		return FileTypeBadSymlink, nil
	}

	err = os.Symlink(target, absPath)
	switch {
	case err == nil:
		return FileTypeSymlink, nil
	case errors.Is(err, os.ErrExist):
		if pathIsUnversioned {
			return FileTypeSymlink, newErr(KindFileObstructed, "install symlink", relPath, ErrSymlinkPathUnversioned)
		}
		return replaceExistingSymlink(absPath, target)
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(filepath.Dir(absPath), 0o755); mkErr != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "mkdir parents: %w", mkErr)
		}
		if err := os.Symlink(target, absPath); err != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "symlink: %w", err)
		}
		return FileTypeSymlink, nil
	default:
		return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "symlink: %w", err)
	}
}

// replaceExistingSymlink handles EEXIST from a plain symlink() call for a
// path already known to be tracked (InstallSymlink's caller has ruled out
// the unversioned case): if the existing entry opens as a regular file,
// the prior version was a bad symlink stored as text and is replaced
// outright. If the existing entry is itself a symlink (ELOOP on open), an
// identical target is a no-op; any other existing entry is obstructing
// the install and is reported as such.
func replaceExistingSymlink(absPath, target string) (FileType, error) {
	f, err := os.OpenFile(absPath, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err == nil {
		f.Close()
		if rmErr := os.Remove(absPath); rmErr != nil {
			return FileTypeBadSymlink, wrapf(KindIO, "install symlink", absPath, "remove stale bad-symlink file: %w", rmErr)
		}
		if err := os.Symlink(target, absPath); err != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "symlink: %w", err)
		}
		return FileTypeSymlink, nil
	}

	if isELOOP(err) {
		existing, rlErr := os.Readlink(absPath)
		if rlErr != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "readlink: %w", rlErr)
		}
		if existing == target {
			return FileTypeSymlink, nil
		}
		if rmErr := os.Remove(absPath); rmErr != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "remove stale symlink: %w", rmErr)
		}
		if err := os.Symlink(target, absPath); err != nil {
			return FileTypeSymlink, wrapf(KindIO, "install symlink", absPath, "symlink: %w", err)
		}
		return FileTypeSymlink, nil
	}

	return FileTypeSymlink, newErr(KindFileObstructed, "install symlink", absPath, err)
}

func isELOOP(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ELOOP
}

// writeFileAtomic writes data to a temp file in path's directory, fsyncs
// it, and renames it into place at path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapf(KindIO, "write file", path, "mkdir parents: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return wrapf(KindIO, "write file", path, "create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "write file", path, "write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "write file", path, "fsync: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapf(KindIO, "write file", path, "chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "write file", path, "close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrapf(KindIO, "write file", path, "rename: %w", err)
	}
	return nil
}
