package sdb

import "github.com/ctagard/sdb-dap/pkg/types"

// Breakpoint is a line breakpoint owned by one runtime. Lines are 1-based.
type Breakpoint struct {
	ID       int  `json:"id"`
	Line     int  `json:"line"`
	Verified bool `json:"verified"`
}

// BreakpointTable holds the breakpoints of each file. A file's list is only
// ever replaced as a whole (Replace, Resolve) or grown/shrunk by one entry
// (Add, Remove); entries are never edited in place.
//
// Ids come from a single counter starting at 1 and are never reused.
// The table is not safe for concurrent use; Runtime guards it.
type BreakpointTable struct {
	nextID int
	files  []string
	byFile map[string][]Breakpoint
}

// NewBreakpointTable creates an empty table
func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{
		nextID: 1,
		byFile: make(map[string][]Breakpoint),
	}
}

func (t *BreakpointTable) allocate(line int) Breakpoint {
	bp := Breakpoint{ID: t.nextID, Line: line}
	t.nextID++
	return bp
}

func (t *BreakpointTable) set(file string, bps []Breakpoint) {
	if _, ok := t.byFile[file]; !ok {
		t.files = append(t.files, file)
	}
	t.byFile[file] = bps
}

func (t *BreakpointTable) drop(file string) {
	if _, ok := t.byFile[file]; !ok {
		return
	}
	delete(t.byFile, file)
	for i, f := range t.files {
		if f == file {
			t.files = append(t.files[:i], t.files[i+1:]...)
			break
		}
	}
}

// Add appends a new unverified breakpoint to file
func (t *BreakpointTable) Add(file string, line int) Breakpoint {
	bp := t.allocate(line)
	bps := append(t.Get(file), bp)
	t.set(file, bps)
	return bp
}

// Replace discards every breakpoint of file and creates a fresh unverified
// list with new ids, one per line
func (t *BreakpointTable) Replace(file string, lines []int) []Breakpoint {
	t.drop(file)
	bps := make([]Breakpoint, 0, len(lines))
	for _, line := range lines {
		bps = append(bps, t.allocate(line))
	}
	t.set(file, bps)
	return t.Get(file)
}

// Remove deletes the first breakpoint of file on line
func (t *BreakpointTable) Remove(file string, line int) (Breakpoint, bool) {
	bps := t.byFile[file]
	for i, bp := range bps {
		if bp.Line == line {
			next := make([]Breakpoint, 0, len(bps)-1)
			next = append(next, bps[:i]...)
			next = append(next, bps[i+1:]...)
			t.byFile[file] = next
			return bp, true
		}
	}
	return Breakpoint{}, false
}

// Resolve replaces the list of file with the breakpoints the target accepted
func (t *BreakpointTable) Resolve(file string, resolved []types.ResolvedBreakpoint) []Breakpoint {
	bps := make([]Breakpoint, 0, len(resolved))
	for _, r := range resolved {
		bps = append(bps, Breakpoint{ID: r.ID, Line: r.Line, Verified: r.Verified})
		if r.ID >= t.nextID {
			t.nextID = r.ID + 1
		}
	}
	t.set(file, bps)
	return t.Get(file)
}

// Unverify replaces the list of file with unverified copies of its entries
func (t *BreakpointTable) Unverify(file string) []Breakpoint {
	bps, ok := t.byFile[file]
	if !ok {
		return nil
	}
	next := make([]Breakpoint, len(bps))
	for i, bp := range bps {
		bp.Verified = false
		next[i] = bp
	}
	t.byFile[file] = next
	return t.Get(file)
}

// Get returns a copy of the breakpoints of file
func (t *BreakpointTable) Get(file string) []Breakpoint {
	bps := t.byFile[file]
	if bps == nil {
		return nil
	}
	out := make([]Breakpoint, len(bps))
	copy(out, bps)
	return out
}

// Has reports whether file has an entry, even an empty one
func (t *BreakpointTable) Has(file string) bool {
	_, ok := t.byFile[file]
	return ok
}

// Files lists files with an entry, in the order they were first set
func (t *BreakpointTable) Files() []string {
	out := make([]string, len(t.files))
	copy(out, t.files)
	return out
}
