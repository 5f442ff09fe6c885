package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type mcpFile struct {
	Servers map[string]mcpFileServer `json:"mcpServers"`
}

type mcpFileServer struct {
	MCPServerConfig
	Env map[string]string `json:"env,omitempty"`
}

// LoadMCPFile reads a JSON servers file of the form
// {"mcpServers": {"name": {"command": ..., "args": [...], "cwd": ..., "env": {...}}}}.
//
// A missing file is created with an empty server set.
func LoadMCPFile(path string) (map[string]MCPServerConfig, error) {
	bts, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultMCPFile(path); err != nil {
			return nil, err
		}
		return map[string]MCPServerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp file: %w", err)
	}

	var f mcpFile
	if err := json.Unmarshal(bts, &f); err != nil {
		return nil, fmt.Errorf("parse mcp file %q: %w", path, err)
	}

	servers := make(map[string]MCPServerConfig, len(f.Servers))
	for name, s := range f.Servers {
		cfg := s.MCPServerConfig
		cfg.Env = envList(s.Env)
		if cfg.Command == "" && cfg.URL == "" {
			return nil, fmt.Errorf("mcp file %q: server %q needs a command or a url", path, name)
		}
		servers[name] = cfg
	}
	return servers, nil
}

func writeDefaultMCPFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create mcp file directory: %w", err)
	}
	bts, err := json.MarshalIndent(mcpFile{Servers: map[string]mcpFileServer{}}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mcp file: %w", err)
	}
	if err := os.WriteFile(path, append(bts, '\n'), 0o600); err != nil {
		return fmt.Errorf("write mcp file: %w", err)
	}
	return nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
