// Package config resolves per-invocation settings from CLI flags,
// environment variables, stored state, and built-in defaults — in that
// precedence order — into one immutable struct. Nothing downstream of
// the resolver reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides. All are optional.
const (
	EnvHome          = "MLBOX_HOME"
	EnvSSHKey        = "MLBOX_SSH_KEY"
	EnvSSHPort       = "MLBOX_SSH_PORT"
	EnvContainerName = "MLBOX_CONTAINER_NAME"
	EnvDashboardPort = "MLBOX_DASHBOARD_PORT"
	EnvClientPort    = "MLBOX_CLIENT_PORT"
)

const (
	DefaultUsername      = "ubuntu"
	DefaultSSHPort       = 22
	DefaultIdentityFile  = "~/.ssh/id_ed25519"
	DefaultAppPort       = 8000
	DefaultDashboardPort = 8265
	DefaultClientPort    = 10001
)

// File models the optional yaml defaults file at ~/.mlbox/config.
type File struct {
	Username      string `yaml:"username"`
	IdentityFile  string `yaml:"identityFile"`
	SSHPort       int    `yaml:"sshPort"`
	ContainerName string `yaml:"containerName"`
}

// Load decodes the defaults file. Missing files return (nil, nil).
func Load(path string) (*File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}

// Save writes the defaults file, creating parent directories if needed.
func (f *File) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Options carries the already-parsed CLI flag values relevant to
// connection resolution. Zero values mean "not set".
type Options struct {
	Username      string
	IdentityFile  string
	Port          int
	ContainerName string
	ProjectDir    string
}

// Stored carries values recalled from the state store for the resolved
// remote, if any. Zero values mean "not recorded".
type Stored struct {
	Username      string
	IdentityFile  string
	Port          int
	ContainerName string
}

// Resolved is the immutable per-invocation configuration.
type Resolved struct {
	Username      string
	IdentityFile  string
	Port          int
	ProjectName   string
	ContainerName string
	AppPort       int
	DashboardPort int
	ClientPort    int
}

// Resolve layers flags > env > stored > file > defaults.
func Resolve(opts Options, stored Stored, file *File) (Resolved, error) {
	projectDir := opts.ProjectDir
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Resolved{}, err
		}
		projectDir = cwd
	}
	projectName := filepath.Base(projectDir)
	if projectName == "" || projectName == "." || projectName == string(filepath.Separator) {
		return Resolved{}, fmt.Errorf("cannot derive a project name from %q", projectDir)
	}

	var fileUsername, fileIdentity, fileContainer string
	var filePort int
	if file != nil {
		fileUsername = file.Username
		fileIdentity = file.IdentityFile
		fileContainer = file.ContainerName
		filePort = file.SSHPort
	}

	r := Resolved{
		ProjectName:   projectName,
		Username:      firstString(opts.Username, stored.Username, fileUsername, DefaultUsername),
		IdentityFile:  firstString(opts.IdentityFile, os.Getenv(EnvSSHKey), stored.IdentityFile, fileIdentity, DefaultIdentityFile),
		ContainerName: firstString(opts.ContainerName, os.Getenv(EnvContainerName), stored.ContainerName, fileContainer, strings.ToLower(projectName)),
		AppPort:       DefaultAppPort,
		DashboardPort: envPort(EnvDashboardPort, DefaultDashboardPort),
		ClientPort:    envPort(EnvClientPort, DefaultClientPort),
	}
	r.Port = firstPort(opts.Port, envPort(EnvSSHPort, 0), stored.Port, filePort, DefaultSSHPort)

	identity, err := ExpandPath(r.IdentityFile)
	if err != nil {
		return Resolved{}, err
	}
	r.IdentityFile = identity
	return r, nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPort(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func envPort(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return fallback
	}
	return n
}
