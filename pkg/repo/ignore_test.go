package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnore(t *testing.T) {
	tests := []struct {
		name      string
		gotignore string // empty means no .gotignore file
		path      string
		want      bool
	}{
		{name: "meta dir itself", path: ".got", want: true},
		{name: "file under meta dir", path: ".got/HEAD", want: true},
		{name: "nested under meta dir", path: ".got/objects/abc", want: true},
		{name: "git dir itself", path: ".git", want: true},
		{name: "file under git dir", path: ".git/config", want: true},
		{name: "plain file with no rules", path: "main.go", want: false},
		{name: "nested file with no rules", path: "src/util.go", want: false},

		{name: "glob match", gotignore: "*.log\n", path: "debug.log", want: true},
		{name: "glob non-match", gotignore: "*.log\n", path: "debug.txt", want: false},
		{name: "glob matches base in subdir", gotignore: "*.o\n", path: "src/foo.o", want: true},
		{name: "glob matches at root", gotignore: "*.o\n", path: "foo.o", want: true},
		{name: "glob non-match in subdir", gotignore: "*.o\n", path: "src/foo.go", want: false},

		{name: "dir rule covers children", gotignore: "build/\n", path: "build/output.o", want: true},
		{name: "dir rule covers grandchildren", gotignore: "build/\n", path: "build/sub/file.txt", want: true},

		{name: "negation keeps earlier exclusion", gotignore: "*.log\n!important.log\n", path: "debug.log", want: true},
		{name: "negation re-includes", gotignore: "*.log\n!important.log\n", path: "important.log", want: false},

		{name: "comment skipped, rule applies", gotignore: "# junk\n*.log\n# more\n", path: "debug.log", want: true},
		{name: "comment text is not a rule", gotignore: "# junk\n*.log\n", path: "# junk", want: false},

		{name: "globstar crosses segments", gotignore: "**/gen/*.pb.go\n", path: "api/v2/gen/types.pb.go", want: true},
		{name: "globstar at root", gotignore: "**/gen/*.pb.go\n", path: "gen/types.pb.go", want: true},
		{name: "globstar non-match", gotignore: "**/gen/*.pb.go\n", path: "api/gen/types.go", want: false},

		{name: "anchored literal", gotignore: "docs/TODO\n", path: "docs/TODO", want: true},
		{name: "anchored literal elsewhere", gotignore: "docs/TODO\n", path: "other/docs/TODO", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.gotignore != "" {
				writeGotignore(t, dir, tt.gotignore)
			}
			ic := NewIgnoreChecker(dir)
			if got := ic.IsIgnored(tt.path); got != tt.want {
				t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIgnore_MissingGotignoreLeavesOnlyBuiltins(t *testing.T) {
	ic := NewIgnoreChecker(t.TempDir())

	if !ic.IsIgnored(".got/HEAD") {
		t.Error("expected .got/HEAD ignored without a .gotignore")
	}
	if ic.IsIgnored("main.go") {
		t.Error("expected main.go tracked without a .gotignore")
	}
}

func writeGotignore(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".gotignore"), []byte(content), 0o644); err != nil {
		t.Fatalf("write .gotignore: %v", err)
	}
}
