// Package cache stores one JSON lines file per id, sharded by id prefix.
package cache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	fileExt        = ".jsonl"
	shardPrefixLen = 2
)

var errInvalidID = errors.New("invalid id")

// Cache appends records of type T to per-id files under dir.
type Cache[T any] struct {
	dir string
}

// New creates the cache directory.
func New[T any](dir string) (*Cache[T], error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache[T]{dir: dir}, nil
}

func (c *Cache[T]) path(id string) string {
	if len(id) < shardPrefixLen {
		return filepath.Join(c.dir, id+fileExt)
	}
	return filepath.Join(c.dir, id[:shardPrefixLen], id+fileExt)
}

// Append adds one record to the file of id.
func (c *Cache[T]) Append(id string, v T) error {
	if id == "" {
		return fmt.Errorf("append: %w", errInvalidID)
	}
	path := c.path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	bts, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := file.Write(append(bts, '\n')); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// Read returns every record stored for id in append order.
func (c *Cache[T]) Read(id string) ([]T, error) {
	if id == "" {
		return nil, fmt.Errorf("read: %w", errInvalidID)
	}
	file, err := os.Open(c.path(id))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer file.Close() //nolint:errcheck

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			return out, fmt.Errorf("read %s: record %d: %w", id, len(out)+1, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read: %w", err)
	}
	return out, nil
}

// Delete removes the file of id. Missing files are not an error.
func (c *Cache[T]) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("delete: %w", errInvalidID)
	}
	if err := os.Remove(c.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
