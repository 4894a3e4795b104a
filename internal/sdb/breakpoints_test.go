package sdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/sdb-dap/pkg/types"
)

func ids(bps []Breakpoint) []int {
	out := make([]int, 0, len(bps))
	for _, bp := range bps {
		out = append(out, bp.ID)
	}
	return out
}

func TestBreakpointTable_IDsIncreaseAcrossFiles(t *testing.T) {
	table := NewBreakpointTable()

	a := table.Add("a.nut", 3)
	b := table.Add("b.nut", 4)
	c := table.Replace("a.nut", []int{7, 8})
	d := table.Add("b.nut", 9)

	seen := []int{a.ID, b.ID, c[0].ID, c[1].ID, d.ID}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	for _, bp := range append(c, a, b, d) {
		assert.False(t, bp.Verified)
	}
}

func TestBreakpointTable_ReplaceDiscardsPriorIDs(t *testing.T) {
	table := NewBreakpointTable()
	first := table.Replace("main.nut", []int{10, 20})
	second := table.Replace("main.nut", []int{10, 20})

	assert.Equal(t, []int{1, 2}, ids(first))
	assert.Equal(t, []int{3, 4}, ids(second))
	assert.Equal(t, []int{3, 4}, ids(table.Get("main.nut")))
}

func TestBreakpointTable_Remove(t *testing.T) {
	table := NewBreakpointTable()
	table.Add("a.nut", 5)
	table.Add("a.nut", 6)
	table.Add("a.nut", 5)

	bp, ok := table.Remove("a.nut", 5)
	require.True(t, ok)
	assert.Equal(t, 1, bp.ID)
	assert.Equal(t, []int{2, 3}, ids(table.Get("a.nut")))

	_, ok = table.Remove("a.nut", 42)
	assert.False(t, ok)
	_, ok = table.Remove("missing.nut", 5)
	assert.False(t, ok)
}

func TestBreakpointTable_ResolveReplacesWholesale(t *testing.T) {
	table := NewBreakpointTable()
	table.Replace("a.nut", []int{1, 2, 3})

	got := table.Resolve("a.nut", []types.ResolvedBreakpoint{
		{ID: 50, Line: 2, Verified: true},
		{ID: 51, Line: 4, Verified: false},
	})

	want := []Breakpoint{{ID: 50, Line: 2, Verified: true}, {ID: 51, Line: 4, Verified: false}}
	assert.Equal(t, want, got)
	assert.Equal(t, want, table.Get("a.nut"))

	// local ids continue past any id the target handed out
	assert.Equal(t, 52, table.Add("b.nut", 1).ID)
}

func TestBreakpointTable_UnverifyAndCopies(t *testing.T) {
	table := NewBreakpointTable()
	table.Resolve("a.nut", []types.ResolvedBreakpoint{{ID: 1, Line: 2, Verified: true}})

	got := table.Unverify("a.nut")
	require.Len(t, got, 1)
	assert.False(t, got[0].Verified)

	got[0].Line = 99
	assert.Equal(t, 2, table.Get("a.nut")[0].Line, "Get must return a copy")
	assert.Nil(t, table.Unverify("missing.nut"))
}

func TestBreakpointTable_Files(t *testing.T) {
	table := NewBreakpointTable()
	table.Add("b.nut", 1)
	table.Add("a.nut", 1)
	table.Replace("c.nut", nil)
	table.Replace("b.nut", []int{2})

	assert.Equal(t, []string{"a.nut", "c.nut", "b.nut"}, table.Files())
	assert.True(t, table.Has("c.nut"))
	assert.Empty(t, table.Get("c.nut"))
	assert.False(t, table.Has("d.nut"))
}
