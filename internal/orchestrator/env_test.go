package orchestrator

import (
	"strings"
	"testing"
)

func TestMergeEnvPreservesOperatorEntries(t *testing.T) {
	existing := strings.Join([]string{
		"# managed by hand",
		"WANDB_API_KEY=secret",
		"NVIDIA_VISIBLE_DEVICES=0,1",
		"",
	}, "\n")

	got := mergeEnv(existing, [][2]string{
		{"PROJECT_NAME", "demo"},
		{"NVIDIA_VISIBLE_DEVICES", "all"},
	})

	if !strings.Contains(got, "WANDB_API_KEY=secret") {
		t.Fatal("hand-added entry was dropped")
	}
	if !strings.Contains(got, "# managed by hand") {
		t.Fatal("comment was dropped")
	}
	if !strings.Contains(got, "NVIDIA_VISIBLE_DEVICES=all") {
		t.Fatal("existing key not updated")
	}
	if strings.Count(got, "NVIDIA_VISIBLE_DEVICES") != 1 {
		t.Fatalf("key duplicated:\n%s", got)
	}
	if !strings.Contains(got, "PROJECT_NAME=demo") {
		t.Fatal("missing key not appended")
	}
}

func TestMergeEnvFromEmpty(t *testing.T) {
	got := mergeEnv("", [][2]string{{"A", "1"}, {"B", "2"}})
	if got != "A=1\nB=2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestMergeEnvIdempotent(t *testing.T) {
	updates := [][2]string{{"PROJECT_NAME", "demo"}, {"NVIDIA_DRIVER_CAPABILITIES", "all"}}
	once := mergeEnv("", updates)
	twice := mergeEnv(once, updates)
	if once != twice {
		t.Fatalf("merge not idempotent:\n%q\nvs\n%q", once, twice)
	}
}
