package dap

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ctagard/sdb-dap/internal/errors"
)

// firstHandle keeps variable references clear of small ids a front end may
// treat specially
const firstHandle = 1000

// Handles maps variable references to scope paths. A handle is never reused,
// even when the same path is registered twice.
type Handles struct {
	mu    sync.Mutex
	next  int
	paths map[int]string
}

// NewHandles creates an empty registry
func NewHandles() *Handles {
	return &Handles{
		next:  firstHandle,
		paths: make(map[int]string),
	}
}

// Create registers path and returns its new handle
func (h *Handles) Create(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := h.next
	h.next++
	h.paths[handle] = path
	return handle
}

// Get resolves a handle to its path
func (h *Handles) Get(handle int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	path, ok := h.paths[handle]
	return path, ok
}

// ScopeKind is the root a scope path is resolved against
type ScopeKind int

const (
	ScopeLocal ScopeKind = iota
	ScopeGlobal
)

const (
	localPrefix  = "local:"
	globalPrefix = "global:"
)

// ScopePath is a parsed handle path. Path is the comma-joined iterator path
// relative to the scope root; Frame is only meaningful for ScopeLocal.
type ScopePath struct {
	Kind  ScopeKind
	Frame int
	Path  string
}

// LocalPath is the root path of the locals of frame
func LocalPath(frame int) string {
	return localPrefix + strconv.Itoa(frame) + ":"
}

// GlobalPath is the root path of the global table
func GlobalPath() string {
	return globalPrefix
}

// ChildPath appends an iterator ordinal to parent. A parent ending in ':' has
// an empty iterator path and takes no separator.
func ChildPath(parent string, iterator int) string {
	if strings.HasSuffix(parent, ":") {
		return parent + strconv.Itoa(iterator)
	}
	return parent + "," + strconv.Itoa(iterator)
}

// joinIterators renders an iterator path the way ChildPath builds it
func joinIterators(path []int) string {
	parts := make([]string, len(path))
	for i, it := range path {
		parts[i] = strconv.Itoa(it)
	}
	return strings.Join(parts, ",")
}

// ParseScopePath splits "local:<frame>:<path>" or "global:<path>"
func ParseScopePath(s string) (ScopePath, error) {
	switch {
	case strings.HasPrefix(s, localPrefix):
		rest := s[len(localPrefix):]
		sep := strings.IndexByte(rest, ':')
		if sep < 0 {
			return ScopePath{}, errors.UnknownVariableScope(s)
		}
		frame, err := strconv.Atoi(rest[:sep])
		if err != nil {
			return ScopePath{}, errors.UnknownVariableScope(s)
		}
		return ScopePath{Kind: ScopeLocal, Frame: frame, Path: rest[sep+1:]}, nil
	case strings.HasPrefix(s, globalPrefix):
		return ScopePath{Kind: ScopeGlobal, Path: s[len(globalPrefix):]}, nil
	default:
		return ScopePath{}, errors.UnknownVariableScope(s)
	}
}
