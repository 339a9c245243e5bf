package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePathDepths(t *testing.T) {
	p, err := ParsePath(nil)
	require.NoError(t, err)
	require.Equal(t, 0, p.Depth)

	p, err = ParsePath([]string{"3"})
	require.NoError(t, err)
	require.Equal(t, 1, p.Depth)
	require.Equal(t, uint16(3), p.ObjectID)

	p, err = ParsePath([]string{"3", "0"})
	require.NoError(t, err)
	require.Equal(t, 2, p.Depth)
	require.Equal(t, uint16(0), p.InstanceID)

	p, err = ParsePath([]string{"3", "0", "15"})
	require.NoError(t, err)
	require.Equal(t, 3, p.Depth)
	require.Equal(t, uint16(15), p.ResourceID)
}

func TestParsePathTooDeepErrors(t *testing.T) {
	_, err := ParsePath([]string{"3", "0", "15", "1"})
	require.Error(t, err)
}

func TestParsePathNonNumericFirstSegmentBecomesAlias(t *testing.T) {
	p, err := ParsePath([]string{"rd"})
	require.NoError(t, err)
	require.Equal(t, "rd", p.AliasSegment)
}

func TestParsePathNonNumericInstanceErrors(t *testing.T) {
	_, err := ParsePath([]string{"3", "x"})
	require.Error(t, err)
}

func TestParsePathTrimsEmptySegments(t *testing.T) {
	p, err := ParsePath([]string{"", "3", "0"})
	require.NoError(t, err)
	require.Equal(t, 2, p.Depth)
	require.Equal(t, uint16(3), p.ObjectID)
}

func TestPathStringFormatsByDepth(t *testing.T) {
	require.Equal(t, "/", Path{Depth: 0}.String())
	require.Equal(t, "/3", Path{Depth: 1, ObjectID: 3}.String())
	require.Equal(t, "/3/0", Path{Depth: 2, ObjectID: 3, InstanceID: 0}.String())
	require.Equal(t, "/3/0/15", Path{Depth: 3, ObjectID: 3, InstanceID: 0, ResourceID: 15}.String())
}

func TestSplitURIPath(t *testing.T) {
	require.Equal(t, []string{"rd", "5a3f"}, SplitURIPath("/rd/5a3f"))
}
