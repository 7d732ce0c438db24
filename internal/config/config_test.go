package config

import (
	"path/filepath"
	"testing"
)

func TestResolve_Precedence(t *testing.T) {
	t.Setenv(EnvSSHPort, "2022")
	t.Setenv(EnvContainerName, "env-container")

	r, err := Resolve(
		Options{Username: "flaguser", Port: 2200, ProjectDir: "/tmp/demo"},
		Stored{Username: "storeduser", Port: 22022, ContainerName: "stored-container"},
		&File{Username: "fileuser", SSHPort: 2, ContainerName: "file-container"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Username != "flaguser" {
		t.Fatalf("username=%q, want flag value", r.Username)
	}
	if r.Port != 2200 {
		t.Fatalf("port=%d, want flag value 2200", r.Port)
	}
	if r.ContainerName != "env-container" {
		t.Fatalf("container=%q, want env value", r.ContainerName)
	}
	if r.ProjectName != "demo" {
		t.Fatalf("project=%q, want demo", r.ProjectName)
	}
}

func TestResolve_FallsBackToStoredThenDefaults(t *testing.T) {
	t.Setenv(EnvSSHPort, "")
	t.Setenv(EnvContainerName, "")
	t.Setenv(EnvSSHKey, "")

	r, err := Resolve(Options{ProjectDir: "/tmp/Demo"}, Stored{Username: "storeduser"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Username != "storeduser" {
		t.Fatalf("username=%q, want stored value", r.Username)
	}
	if r.Port != DefaultSSHPort {
		t.Fatalf("port=%d, want default %d", r.Port, DefaultSSHPort)
	}
	if r.ContainerName != "demo" {
		t.Fatalf("container=%q, want lowercased project name", r.ContainerName)
	}
	if !filepath.IsAbs(r.IdentityFile) {
		t.Fatalf("identity file %q not expanded", r.IdentityFile)
	}
}

func TestResolve_InvalidEnvPortIgnored(t *testing.T) {
	t.Setenv(EnvSSHPort, "not-a-port")
	r, err := Resolve(Options{ProjectDir: "/tmp/demo"}, Stored{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Port != DefaultSSHPort {
		t.Fatalf("port=%d, want default", r.Port)
	}
}

func TestLoad_MissingFileIsNil(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil config for missing file")
	}
}

func TestFile_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	in := &File{Username: "researcher", SSHPort: 2222, IdentityFile: "~/.ssh/lab"}
	if err := in.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out == nil || out.Username != "researcher" || out.SSHPort != 2222 {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}
