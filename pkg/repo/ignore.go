package repo

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreChecker answers whether a repository-relative path is excluded
// from status and add operations. The meta directories .got and .git are
// always excluded; user rules come from an optional .gotignore file at
// the worktree root, one pattern per line, last matching rule winning so
// that "!pattern" lines can re-include earlier exclusions.
type IgnoreChecker struct {
	rules []ignoreRule

	// Rules are bucketed at construction so IsIgnored can resolve
	// literal patterns by map lookup and only run glob matching for
	// rules that actually contain metacharacters.
	prefixDirs  map[string][]int // dir-only rules and the built-in meta dirs, matched as path prefixes
	literalBase map[string][]int
	literalPath map[string][]int
	globBase    []int
	globPath    []int
}

type ignoreRule struct {
	text     string
	negated  bool
	dirOnly  bool
	anchored bool           // rule contains a slash: match the full relative path
	re       *regexp.Regexp // compiled form, set only for ** rules
}

// NewIgnoreChecker builds a checker for the worktree rooted at root,
// loading .gotignore from it when present. A missing or unreadable
// .gotignore simply leaves only the built-in meta-directory rules.
func NewIgnoreChecker(root string) *IgnoreChecker {
	ic := &IgnoreChecker{
		rules: []ignoreRule{
			{text: ".got"},
			{text: ".git"},
		},
	}

	if f, err := os.Open(filepath.Join(root, ".gotignore")); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if r, ok := parseIgnoreRule(scanner.Text()); ok {
				ic.rules = append(ic.rules, r)
			}
		}
	}

	ic.index()
	return ic
}

// parseIgnoreRule parses one .gotignore line. Blank lines and #-comments
// yield ok=false.
func parseIgnoreRule(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	r.anchored = strings.Contains(line, "/")
	r.text = line
	if strings.Contains(line, "**") {
		if re, err := regexp.Compile(globstarToRegexp(line)); err == nil {
			r.re = re
		}
	}
	return r, true
}

// index buckets every rule by how it is matched: prefix, exact literal,
// or glob, each keyed by whether it applies to the base name or the full
// path.
func (ic *IgnoreChecker) index() {
	ic.prefixDirs = make(map[string][]int)
	ic.literalBase = make(map[string][]int)
	ic.literalPath = make(map[string][]int)
	ic.globBase = nil
	ic.globPath = nil

	for i, r := range ic.rules {
		if r.dirOnly || r.text == ".got" || r.text == ".git" {
			ic.prefixDirs[r.text] = append(ic.prefixDirs[r.text], i)
			if r.dirOnly {
				continue
			}
		}

		literal := !strings.ContainsAny(r.text, "*?[")
		switch {
		case literal && r.re == nil:
			if r.anchored {
				ic.literalPath[r.text] = append(ic.literalPath[r.text], i)
			} else {
				ic.literalBase[r.text] = append(ic.literalBase[r.text], i)
			}
		case r.anchored:
			ic.globPath = append(ic.globPath, i)
		default:
			ic.globBase = append(ic.globBase, i)
		}
	}
}

// IsIgnored reports whether the slash-separated, root-relative path is
// excluded. The highest-indexed matching rule decides, so later
// .gotignore lines override earlier ones.
func (ic *IgnoreChecker) IsIgnored(path string) bool {
	path = filepath.ToSlash(path)
	base := filepath.Base(path)

	winner := -1
	ignored := false
	record := func(idxs []int) {
		for _, i := range idxs {
			if i > winner {
				winner = i
				ignored = !ic.rules[i].negated
			}
		}
	}

	// Prefix rules match the directory itself and anything under it.
	record(ic.prefixDirs[path])
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			record(ic.prefixDirs[path[:i]])
		}
	}

	record(ic.literalPath[path])
	record(ic.literalBase[base])

	for _, i := range ic.globPath {
		if ic.rules[i].match(path) {
			record([]int{i})
		}
	}
	for _, i := range ic.globBase {
		if ic.rules[i].match(base) {
			record([]int{i})
		}
	}

	return ignored
}

func (r *ignoreRule) match(target string) bool {
	if r.re != nil {
		return r.re.MatchString(target)
	}
	ok, _ := filepath.Match(r.text, target)
	return ok
}

// globstarToRegexp translates a pattern containing ** into an anchored
// regexp: "**/" consumes zero or more whole path segments, a bare **
// crosses segment boundaries, and single * and ? stay within one
// segment.
func globstarToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			if strings.ContainsRune(`.+()|[]{}^$\\`, rune(ch)) {
				b.WriteByte('\\')
			}
			b.WriteByte(ch)
		}
	}
	b.WriteString("$")
	return b.String()
}
