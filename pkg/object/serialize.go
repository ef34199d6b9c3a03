package object

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity encoding, matching
// the underlying object model: a blob's content *is* its payload).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// Tree
// ---------------------------------------------------------------------------

// MarshalTree serializes a Tree in the canonical on-disk encoding: entries
// sorted by name, each as "<mode> <name>\x00<20-byte raw id>" concatenated
// with no separator between entries.
func MarshalTree(t *Tree) []byte {
	sorted := make([]TreeEntry, len(t.Entries))
	copy(sorted, t.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sortName(sorted[i]) < sortName(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		mode := strings.TrimLeft(string(e.Mode), "0")
		if mode == "" {
			mode = "0"
		}
		fmt.Fprintf(&buf, "%s %s\x00", mode, e.Name)
		buf.Write(e.ID[:])
	}
	return buf.Bytes()
}

// sortName appends a trailing slash to directory entries before comparison,
// matching the underlying object model's entry ordering rule so that a
// directory and a same-prefixed file sort the way the real tool expects.
func sortName(e TreeEntry) string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// UnmarshalTree parses a Tree from its canonical encoding.
func UnmarshalTree(data []byte) (*Tree, error) {
	t := &Tree{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry (no space)")
		}
		mode := string(data[:sp])
		rest := data[sp+1:]

		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry (no NUL)")
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]
		if len(rest) < IDLen {
			return nil, fmt.Errorf("unmarshal tree: truncated id for %q", name)
		}

		var id ObjectID
		copy(id[:], rest[:IDLen])
		t.Entries = append(t.Entries, TreeEntry{
			Name: name,
			Mode: FileMode(padMode(mode)),
			ID:   id,
		})
		data = rest[IDLen:]
	}
	return t, nil
}

// padMode returns mode unchanged: none of this package's mode constants
// has a leading zero for the canonical encoding to strip ("40000" is
// already the stored form of ModeDir).
func padMode(mode string) string {
	return mode
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

func formatSig(s Signature) string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When, s.TZOffset)
}

func parseSig(s string) (Signature, error) {
	// "Name <email> epoch tzoffset"; tzoffset is absent when formatSig
	// was given an empty TZOffset.
	lt := strings.LastIndex(s, "<")
	gt := strings.LastIndex(s, ">")
	if lt < 0 || gt < 0 || gt < lt {
		return Signature{}, fmt.Errorf("malformed signature %q", s)
	}
	name := strings.TrimSpace(s[:lt])
	email := s[lt+1 : gt]
	rest := strings.Fields(s[gt+1:])
	if len(rest) < 1 || len(rest) > 2 {
		return Signature{}, fmt.Errorf("malformed signature %q", s)
	}
	when, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("malformed signature timestamp %q: %w", rest[0], err)
	}
	sig := Signature{Name: name, Email: email, When: when}
	if len(rest) == 2 {
		sig.TZOffset = rest[1]
	}
	return sig, nil
}

// MarshalCommit serializes a Commit in the canonical header/blank-line/message
// encoding:
//
//	tree <id>
//	parent <id>       (zero or more, in order)
//	author <sig>
//	committer <sig>
//	gpgsig-ssh <sig>  (optional, single-line-escaped)
//
//	<message>
func MarshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeID)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", formatSig(c.Author))
	fmt.Fprintf(&buf, "committer %s\n", formatSig(c.Committer))
	if c.SSHSignature != "" {
		fmt.Fprintf(&buf, "gpgsig-ssh %s\n", strings.ReplaceAll(c.SSHSignature, "\n", "\\n"))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a Commit from its serialized form.
func UnmarshalCommit(data []byte) (*Commit, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &Commit{Message: message}
	sc := bufio.NewScanner(strings.NewReader(header))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			id, err := ParseID(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
			c.TreeID = id
		case "parent":
			id, err := ParseID(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, id)
		case "author":
			sig, err := parseSig(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: %w", err)
			}
			c.Author = sig
		case "committer":
			sig, err := parseSig(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: %w", err)
			}
			c.Committer = sig
		case "gpgsig-ssh":
			c.SSHSignature = strings.ReplaceAll(val, "\\n", "\n")
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Tag
// ---------------------------------------------------------------------------

// MarshalTag serializes an annotated Tag object.
func MarshalTag(t *Tag) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.TargetID)
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", formatSig(t.Tagger))
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// UnmarshalTag parses a Tag from its serialized form.
func UnmarshalTag(data []byte) (*Tag, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal tag: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	t := &Tag{Message: message}
	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal tag: malformed header line %q", line)
		}
		switch key {
		case "object":
			id, err := ParseID(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal tag: %w", err)
			}
			t.TargetID = id
		case "type":
			t.TargetType = ObjectType(val)
		case "tag":
			t.Name = val
		case "tagger":
			sig, err := parseSig(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal tag: %w", err)
			}
			t.Tagger = sig
		default:
			return nil, fmt.Errorf("unmarshal tag: unknown header key %q", key)
		}
	}
	return t, nil
}
