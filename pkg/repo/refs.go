package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/got/pkg/object"
)

// ListRefs lists references under .got/refs.
// Names are returned relative to refs root, e.g. "heads/main", "tags/v1".
func (r *Repo) ListRefs(prefix string) (map[string]object.ObjectID, error) {
	root := filepath.Join(r.GotDir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.ObjectID)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := object.ParseID(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("list refs: %s: %w", name, err)
		}
		refs[name] = id
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// DeleteRef removes a ref file under .got/refs.
func (r *Repo) DeleteRef(name string) error {
	path := filepath.Join(r.GotDir, name)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	return nil
}

// GetSymrefTarget reports the target ref name when path is a symbolic
// ref file ("ref: <target>\n"), or ok=false when it holds a raw id.
func (r *Repo) GetSymrefTarget(name string) (target string, ok bool, err error) {
	path := filepath.Join(r.GotDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read ref %q: %w", name, err)
	}
	content := strings.TrimRight(string(data), "\n")
	if strings.HasPrefix(content, "ref: ") {
		return strings.TrimPrefix(content, "ref: "), true, nil
	}
	return "", false, nil
}

// WriteSymref writes a symbolic ref file pointing at target.
func (r *Repo) WriteSymref(name, target string) error {
	path := filepath.Join(r.GotDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write symref %q: %w", name, err)
	}
	if err := os.WriteFile(path, []byte("ref: "+target+"\n"), 0o644); err != nil {
		return fmt.Errorf("write symref %q: %w", name, err)
	}
	return nil
}
