package acl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOwnerShortCircuitsToFull(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(101, PermRead) // even an explicit restrictive entry is irrelevant to the owner
	require.Equal(t, PermFull, a.Resolve(101))
}

func TestResolveExplicitSSIDEntry(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(102, PermWrite)
	require.Equal(t, PermWrite, a.Resolve(102))
}

func TestResolveFallsBackToDefaultSSID(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(DefaultShortServerID, PermRead)
	require.Equal(t, PermRead|PermDiscover|PermObserve|PermWriteAttr, a.Resolve(999))
}

func TestResolveNoMatchGrantsNothing(t *testing.T) {
	a := New(0, 101)
	require.Equal(t, Permission(0), a.Resolve(999))
}

func TestResolveGrantsImplicitBitsAlongsideRead(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(102, PermRead)
	got := a.Resolve(102)
	require.True(t, got&PermDiscover != 0)
	require.True(t, got&PermObserve != 0)
	require.True(t, got&PermWriteAttr != 0)
}

func TestResolveWithoutReadGrantsNoImplicitBits(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(102, PermWrite)
	got := a.Resolve(102)
	require.False(t, got&PermDiscover != 0)
	require.False(t, got&PermObserve != 0)
}

func TestAllowsReturnsUnauthorizedWhenMissing(t *testing.T) {
	a := New(0, 101)
	require.Error(t, a.Allows(999, PermRead))
	a.SetEntry(999, PermRead)
	require.NoError(t, a.Allows(999, PermRead))
}

func TestRemoveEntryFallsBackToDefault(t *testing.T) {
	a := New(0, 101)
	a.SetEntry(DefaultShortServerID, PermRead)
	a.SetEntry(102, PermFull)
	require.Equal(t, PermFull, a.Resolve(102))

	a.RemoveEntry(102)
	require.Equal(t, PermRead|PermDiscover|PermObserve|PermWriteAttr, a.Resolve(102))
}

func TestAuthorizeUpdateOwnerAndBootstrapOnly(t *testing.T) {
	a := New(0, 101)
	require.NoError(t, a.AuthorizeUpdate(101))
	require.NoError(t, a.AuthorizeUpdate(BootstrapShortServerID))
	require.Error(t, a.AuthorizeUpdate(102))
}

func TestSetOwnerChangesResolution(t *testing.T) {
	a := New(0, 101)
	require.Error(t, a.AuthorizeUpdate(102))
	a.SetOwner(102)
	require.NoError(t, a.AuthorizeUpdate(102))
	require.Error(t, a.AuthorizeUpdate(101))
}
