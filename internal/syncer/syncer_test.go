package syncer

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestPlanHonorsNegation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.pyc":         "x",
		"__pycache__/x": "x",
		"keep.pyc":      "x",
		"main.py":       "x",
	})

	excl, err := CompileExcludes(root, []string{"*.pyc", "__pycache__/", "!keep.pyc"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := Plan(root, excl)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []string{"keep.pyc", "main.py"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
}

func TestPlanAppliesDefaultsAndIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":             "data/\n# comment\n\n*.ckpt\n",
		".dockerignore":          "scratch/\n",
		"train.py":               "x",
		"model.ckpt":             "x",
		"data/big.bin":           "x",
		"scratch/tmp":            "x",
		"__pycache__/train.pyc":  "x",
		"node_modules/pkg/index": "x",
	})

	excl, err := CompileExcludes(root, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := Plan(root, excl)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []string{".dockerignore", ".gitignore", "train.py"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
}

func TestExcludeMatchDirAnchors(t *testing.T) {
	excl, err := CompileExcludes(t.TempDir(), []string{"outputs/"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !excl.Match("outputs", true) {
		t.Fatal("dir pattern must match the directory itself")
	}
	if excl.Match("outputs", false) {
		t.Fatal("dir-only pattern must not match a plain file of the same name")
	}
}

func TestNoMatchPatternIsNotAnError(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.py": "x"})
	excl, err := CompileExcludes(root, []string{"does-not-exist-anywhere/"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := Plan(root, excl)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) != 1 || got[0] != "main.py" {
		t.Fatalf("plan = %v", got)
	}
}

func TestRsyncArgsOrdering(t *testing.T) {
	excl, err := CompileExcludes(t.TempDir(), []string{"*.pyc", "!keep.pyc"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := rsyncArgs("/src/", "ubuntu@gpu1:/dst/", excl, "ssh -p 22 -i key", false)

	joined := strings.Join(args, " ")
	inc := strings.Index(joined, "--include=keep.pyc")
	exc := strings.Index(joined, "--exclude=*.pyc")
	if inc == -1 || exc == -1 {
		t.Fatalf("missing filter flags in %v", args)
	}
	if inc > exc {
		t.Fatalf("includes must come before excludes: %v", args)
	}
	if args[0] != "-az" {
		t.Fatalf("archive mode missing: %v", args)
	}
	if args[len(args)-2] != "/src/" || args[len(args)-1] != "ubuntu@gpu1:/dst/" {
		t.Fatalf("src/dst must be trailing: %v", args)
	}
}

func TestRcloneArgs(t *testing.T) {
	tests := []struct {
		name string
		spec DataSyncSpec
		want []string
	}{
		{
			name: "up with tuning",
			spec: DataSyncSpec{Direction: "up", Provider: "gdrive", LocalDir: "./data", RemoteDir: "exp1", Transfers: 8, Checkers: 16},
			want: []string{"sync", "./data", "gdrive:exp1", "--progress", "--transfers", "8", "--checkers", "16"},
		},
		{
			name: "down dry run",
			spec: DataSyncSpec{Direction: "down", Provider: "s3", LocalDir: "./data", RemoteDir: "bucket/exp1", DryRun: true},
			want: []string{"sync", "s3:bucket/exp1", "./data", "--progress", "--dry-run"},
		},
		{
			name: "raw excludes pass through",
			spec: DataSyncSpec{Direction: "up", Provider: "b2", LocalDir: "d", RemoteDir: "r", Excludes: []string{"*.tmp", " ", "logs/**"}},
			want: []string{"sync", "d", "b2:r", "--progress", "--exclude", "*.tmp", "--exclude", "logs/**"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rcloneArgs(tt.spec)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataSyncSpecValidation(t *testing.T) {
	bad := []DataSyncSpec{
		{Direction: "sideways", Provider: "s3"},
		{Direction: "up", Provider: "dropbox"},
		{Direction: "up", Provider: "s3", Mode: "orbit"},
		{Direction: "up", Provider: "s3", Mode: "container"},
	}
	for i, spec := range bad {
		if err := spec.validate(); err == nil {
			t.Fatalf("spec %d should fail validation", i)
		}
	}
	ok := DataSyncSpec{Direction: "up", Provider: "s3", Mode: "container", ContainerName: "demo"}
	if err := ok.validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
