package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// BlockSize is the chunk size used when streaming blob content for
// comparison, matching the 8 KiB block size the status walker compares
// against on-disk file content.
const BlockSize = 8192

// Store is a content-addressed loose-object store with the widely
// deployed fan-out directory layout: objects/ab/cdef0123.... Each object
// is stored zlib-compressed, "type len\0content" before compression.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given repository directory (the
// parent of "objects/"). The objects/ subdirectory is created lazily on
// first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) objectPath(id ObjectID) string {
	hex := id.String()
	return filepath.Join(s.root, "objects", hex[:2], hex[2:])
}

// Has reports whether the store contains an object with the given id.
func (s *Store) Has(id ObjectID) bool {
	_, err := os.Stat(s.objectPath(id))
	return err == nil
}

// Write stores an object and returns its id. Writes are atomic: data is
// deflated to a temp file in the fan-out directory and then renamed into
// place, so the final rename never crosses filesystems.
func (s *Store) Write(objType ObjectType, data []byte) (ObjectID, error) {
	id := HashObject(objType, data)

	if s.Has(id) {
		return id, nil
	}

	dir := filepath.Join(s.root, "objects", id.String()[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return id, fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return id, fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	envelope := fmt.Sprintf("%s %d\x00", objType, len(data))
	if _, err := zw.Write([]byte(envelope)); err != nil {
		zw.Close()
		tmp.Close()
		os.Remove(tmpName)
		return id, fmt.Errorf("object write: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		tmp.Close()
		os.Remove(tmpName)
		return id, fmt.Errorf("object write: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return id, fmt.Errorf("object write: compress close: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return id, fmt.Errorf("object write close: %w", err)
	}

	dest := s.objectPath(id)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return id, fmt.Errorf("object write rename: %w", err)
	}
	return id, nil
}

// Read retrieves an object by id, returning its type and raw content.
func (s *Store) Read(id ObjectID) (ObjectType, []byte, error) {
	f, err := os.Open(s.objectPath(id))
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", id, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", id, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", id, err)
	}

	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL)", id)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q", id, header)
	}
	objType := ObjectType(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", id, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", id, length, len(content))
	}
	return objType, content, nil
}

// ReadBlockReader opens the blob content as a stream and skips the
// envelope header, positioning the reader at the start of the blob's raw
// bytes so callers can compare it in fixed-size blocks without loading
// the whole object into memory.
func (s *Store) ReadBlockReader(id ObjectID) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(id))
	if err != nil {
		return nil, fmt.Errorf("object open %s: %w", id, err)
	}
	zr, err := zlib.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("object open %s: %w", id, err)
	}
	br := bufio.NewReader(zr)
	// Skip "type len\0".
	if _, err := br.ReadString(0); err != nil {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("object open %s: invalid envelope: %w", id, err)
	}
	return &blockReadCloser{br: br, zr: zr, f: f}, nil
}

type blockReadCloser struct {
	br *bufio.Reader
	zr io.ReadCloser
	f  *os.File
}

func (b *blockReadCloser) Read(p []byte) (int, error) { return b.br.Read(p) }
func (b *blockReadCloser) Close() error {
	b.zr.Close()
	return b.f.Close()
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

func (s *Store) WriteBlob(b *Blob) (ObjectID, error) { return s.Write(TypeBlob, MarshalBlob(b)) }

func (s *Store) ReadBlob(id ObjectID) (*Blob, error) {
	objType, data, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if objType != TypeBlob {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", id, objType, TypeBlob)
	}
	return UnmarshalBlob(data)
}

func (s *Store) WriteTree(t *Tree) (ObjectID, error) { return s.Write(TypeTree, MarshalTree(t)) }

func (s *Store) ReadTree(id ObjectID) (*Tree, error) {
	objType, data, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if objType != TypeTree {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", id, objType, TypeTree)
	}
	return UnmarshalTree(data)
}

func (s *Store) WriteCommit(c *Commit) (ObjectID, error) { return s.Write(TypeCommit, MarshalCommit(c)) }

func (s *Store) ReadCommit(id ObjectID) (*Commit, error) {
	objType, data, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if objType != TypeCommit {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", id, objType, TypeCommit)
	}
	return UnmarshalCommit(data)
}

func (s *Store) WriteTag(t *Tag) (ObjectID, error) { return s.Write(TypeTag, MarshalTag(t)) }

func (s *Store) ReadTag(id ObjectID) (*Tag, error) {
	objType, data, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if objType != TypeTag {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", id, objType, TypeTag)
	}
	return UnmarshalTag(data)
}

// BlobFileCreate writes data as a new blob object and returns its id.
// Callers that need to re-read the content afterwards use Write +
// ReadBlockReader directly; this store does not stage blobs through a
// separate temp-file handle before committing them to the fan-out
// directory.
func (s *Store) BlobFileCreate(data []byte) (ObjectID, error) {
	return s.Write(TypeBlob, data)
}

// IDByPath resolves path within the tree reachable from commit id,
// returning the blob or subtree id found there, or ok=false if the path
// does not exist in that commit's tree.
func (s *Store) IDByPath(commitID ObjectID, path string) (id ObjectID, mode FileMode, ok bool, err error) {
	c, err := s.ReadCommit(commitID)
	if err != nil {
		return id, mode, false, err
	}
	cur := c.TreeID
	segs := splitPath(path)
	if len(segs) == 0 {
		return cur, ModeDir, true, nil
	}
	for i, seg := range segs {
		tr, err := s.ReadTree(cur)
		if err != nil {
			return id, mode, false, err
		}
		e, found := tr.Find(seg)
		if !found {
			return id, mode, false, nil
		}
		if i == len(segs)-1 {
			return e.ID, e.Mode, true, nil
		}
		if !e.Mode.IsDir() {
			return id, mode, false, nil
		}
		cur = e.ID
	}
	return id, mode, false, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
