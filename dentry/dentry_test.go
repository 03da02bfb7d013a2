package dentry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootIsRootAndDirectory(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "", root.FullPath())
	assert.True(t, root.Inode().IsDir())
}

func TestAddChildAndFullPath(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	a := New(arena, "a")
	require.NoError(t, root.AddChild(a))
	b := New(arena, "b.txt")
	require.NoError(t, a.AddChild(b))

	assert.Equal(t, "a", a.FullPath())
	assert.Equal(t, "a/b.txt", b.FullPath())
	assert.False(t, a.IsRoot())
}

func TestAddChildCaseInsensitiveCollision(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	require.NoError(t, root.AddChild(New(arena, "File.txt")))
	err := root.AddChild(New(arena, "FILE.TXT"))
	assert.Error(t, err)
}

func TestAddChildRequiresDirectoryParent(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	leaf := New(arena, "leaf")
	require.NoError(t, root.AddChild(leaf))
	// leaf is a plain inode (no AttrDirectory set), so it cannot itself
	// parent another dentry (I2).
	err := leaf.AddChild(New(arena, "child"))
	assert.Error(t, err)
}

func TestChildLookupIsCaseInsensitive(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	c := New(arena, "MixedCase.txt")
	require.NoError(t, root.AddChild(c))
	assert.Same(t, c, root.Child("mixedcase.txt"))
	assert.Same(t, c, root.Child("MIXEDCASE.TXT"))
}

func TestRemoveChildDetaches(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	c := New(arena, "x")
	require.NoError(t, root.AddChild(c))
	removed := root.RemoveChild("X")
	require.NotNil(t, removed)
	assert.Nil(t, root.Child("x"))
	assert.Nil(t, removed.Parent)
}

func TestChildrenPreservesInsertionOrder(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	names := []string{"c", "a", "b"}
	for _, n := range names {
		require.NoError(t, root.AddChild(New(arena, n)))
	}
	got := root.Children()
	require.Len(t, got, 3)
	for i, n := range names {
		assert.Equal(t, n, got[i].Name)
	}
}

func TestSortChildrenByName(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	for _, n := range []string{"c", "a", "b"} {
		require.NoError(t, root.AddChild(New(arena, n)))
	}
	root.SortChildrenByName()
	got := root.Children()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "c", got[2].Name)
}

func TestInvalidatePathRecomputesAfterMove(t *testing.T) {
	arena := NewArena()
	root := NewRoot(arena)
	dirA := New(arena, "a")
	dirB := New(arena, "b")
	require.NoError(t, root.AddChild(dirA))
	require.NoError(t, root.AddChild(dirB))
	leaf := New(arena, "leaf.txt")
	require.NoError(t, dirA.AddChild(leaf))
	assert.Equal(t, "a/leaf.txt", leaf.FullPath())

	dirA.RemoveChild("leaf.txt")
	require.NoError(t, dirB.AddChild(leaf))
	root.InvalidatePath()
	assert.Equal(t, "b/leaf.txt", leaf.FullPath())
}

func TestNewLinkedSharesInode(t *testing.T) {
	arena := NewArena()
	first := New(arena, "primary")
	second := NewLinked(arena, first.InodeID, "alias")
	assert.Equal(t, first.InodeID, second.InodeID)
	assert.Same(t, first.Inode(), second.Inode())
	assert.ElementsMatch(t, []*Dentry{first, second}, first.Inode().LinkedDentries)
}

func TestFileTimeRoundTrip(t *testing.T) {
	in, err := time.Parse(time.RFC3339, "2020-06-15T12:30:45Z")
	require.NoError(t, err)
	ft := FromTime(in)
	back := ft.Time()
	assert.Equal(t, 2020, back.Year())
	assert.Equal(t, 12, back.Hour())
	assert.Equal(t, 30, back.Minute())
	assert.Equal(t, 45, back.Second())
}
