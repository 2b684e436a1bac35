package config

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome resolves a leading ~ against the current user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ConfigDir returns the config directory: the --config-dir override when
// set, otherwise ~/.mindloom.
func ConfigDir() (string, error) {
	if configDirOverride == "" {
		return expandHome("~/.mindloom")
	}

	dir, err := expandHome(configDirOverride)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dir) {
		if dir, err = filepath.Abs(dir); err != nil {
			return "", err
		}
	}
	return filepath.Clean(dir), nil
}

// ConfigPath returns the path of config.yaml inside the config directory.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// WorkspacePath returns the worker workspace root. Unset means
// <configdir>/workspace.
func (c *Config) WorkspacePath() (string, error) {
	if c.Workspace != "" {
		return expandHome(c.Workspace)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspace"), nil
}

// EnsureWorkspace creates the workspace root if it does not exist yet.
func (c *Config) EnsureWorkspace() error {
	ws, err := c.WorkspacePath()
	if err != nil {
		return err
	}
	return os.MkdirAll(ws, 0755)
}
