package sdb

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileAccessor reads source files for the front end
type FileAccessor interface {
	ReadFile(path string) (string, error)
}

// OSFileAccessor reads files from the local file system
type OSFileAccessor struct{}

// ReadFile implements FileAccessor
func (OSFileAccessor) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadError is returned when a source file cannot be read
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// SourceCache keeps the line array of every file read so far. Failed reads
// are not cached.
type SourceCache struct {
	files FileAccessor

	mu    sync.Mutex
	lines map[string][]string
}

// NewSourceCache creates a cache reading through files
func NewSourceCache(files FileAccessor) *SourceCache {
	if files == nil {
		files = OSFileAccessor{}
	}
	return &SourceCache{
		files: files,
		lines: make(map[string][]string),
	}
}

// Lines returns the lines of path, split on \n or \r\n
func (c *SourceCache) Lines(path string) ([]string, error) {
	c.mu.Lock()
	lines, ok := c.lines[path]
	c.mu.Unlock()
	if ok {
		return lines, nil
	}

	text, err := c.files.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	lines = strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	c.mu.Lock()
	c.lines[path] = lines
	c.mu.Unlock()
	return lines, nil
}
