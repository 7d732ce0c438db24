package syncer

import (
	"context"
	"testing"
)

func TestRunUnderPTYSuccessfulCommand(t *testing.T) {
	var lines []string
	code, err := runUnderPTY(context.Background(), "sh", []string{"-c", "echo hello"}, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatalf("successful command reported as failed: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	found := false
	for _, l := range lines {
		if l == "hello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("output not streamed, got %v", lines)
	}
}

func TestRunUnderPTYNonZeroExit(t *testing.T) {
	code, err := runUnderPTY(context.Background(), "sh", []string{"-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("clean non-zero exit must not be an error: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}
