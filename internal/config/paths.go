package config

import (
	"os"
	"path/filepath"
)

func DefaultDir() string {
	if v := os.Getenv(EnvHome); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".mlbox")
}

func DefaultFilePath() string {
	return filepath.Join(DefaultDir(), "config")
}

// DBPath is the sqlite state store location.
func DBPath() string {
	return filepath.Join(DefaultDir(), "mlbox.db")
}

// SSHConfigPath is the generated ssh_config fragment included from the
// user's main ~/.ssh/config.
func SSHConfigPath() string {
	return filepath.Join(DefaultDir(), "ssh", "config")
}

func ExpandPath(path string) (string, error) {
	switch {
	case len(path) >= 2 && path[:2] == "~/":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
