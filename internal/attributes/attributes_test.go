package attributes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptrInt(v int) *int          { return &v }
func ptrFloat(v float64) *float64 { return &v }

func TestWriteAttributesRejectsPMinGreaterThanPMax(t *testing.T) {
	e := New(time.Hour)
	err := e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(10), ptrInt(5), nil, nil, nil)
	require.Error(t, err)
}

func TestWriteAttributesRejectsLTGreaterThanGT(t *testing.T) {
	e := New(time.Hour)
	err := e.WriteAttributes("/3/0/1", 101, LevelResource, nil, nil, ptrFloat(10), ptrFloat(20), nil)
	require.Error(t, err)
}

func TestWriteAttributesRejectsStepViolatingGTLTGap(t *testing.T) {
	e := New(time.Hour)
	// lt=8, gt=10, st=2 -> lt + 2*st = 12 > gt=10, invalid
	err := e.WriteAttributes("/3/0/1", 101, LevelResource, nil, nil, ptrFloat(10), ptrFloat(8), ptrFloat(2))
	require.Error(t, err)
}

func TestWriteAttributesAcceptsConsistentValues(t *testing.T) {
	e := New(time.Hour)
	err := e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(5), ptrInt(10), ptrFloat(20), ptrFloat(5), ptrFloat(2))
	require.NoError(t, err)
}

func TestResolveInheritsFromAncestorLevels(t *testing.T) {
	e := New(time.Hour)
	require.NoError(t, e.WriteAttributes("/3", 101, LevelObject, ptrInt(30), nil, nil, nil, nil))
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, nil, nil, ptrFloat(25.0), nil, nil))

	r := e.Resolve("/3", "/3/0", "/3/0/1", 101, 10, 60)
	require.Equal(t, 30, r.PMin) // inherited from object level
	require.Equal(t, 60, r.PMax) // default, never overridden
	require.NotNil(t, r.GT)
	require.Equal(t, 25.0, *r.GT)
}

func TestResolveMoreSpecificLevelOverrides(t *testing.T) {
	e := New(time.Hour)
	require.NoError(t, e.WriteAttributes("/3", 101, LevelObject, ptrInt(30), nil, nil, nil, nil))
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(5), nil, nil, nil, nil))

	r := e.Resolve("/3", "/3/0", "/3/0/1", 101, 0, 0)
	require.Equal(t, 5, r.PMin)
}

func TestTickNotifiesOnPMaxRegardlessOfChange(t *testing.T) {
	e := New(time.Hour)
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, nil, ptrInt(5), nil, nil, nil))

	d := e.Tick("/3/0/1", 101, 6*time.Second, 42, true)
	require.True(t, d.ShouldNotify)
}

func TestTickNoNotifyBeforePMin(t *testing.T) {
	e := New(time.Hour)
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(10), nil, nil, nil, nil))

	d := e.Tick("/3/0/1", 101, 1*time.Second, 42, true)
	require.False(t, d.ShouldNotify)
}

func TestTickNotifiesOnThresholdCrossing(t *testing.T) {
	e := New(time.Hour)
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(0), nil, ptrFloat(50), nil, nil))

	d := e.Tick("/3/0/1", 101, 1*time.Second, 10, true) // first reading always notifies
	require.True(t, d.ShouldNotify)

	d = e.Tick("/3/0/1", 101, 1*time.Second, 20, true) // no threshold crossed
	require.False(t, d.ShouldNotify)

	d = e.Tick("/3/0/1", 101, 1*time.Second, 60, true) // crosses gt=50
	require.True(t, d.ShouldNotify)
}

func TestTickPromotesToConfirmableAfterInterval(t *testing.T) {
	e := New(5 * time.Second)
	require.NoError(t, e.WriteAttributes("/3/0/1", 101, LevelResource, ptrInt(0), nil, nil, nil, nil))

	d := e.Tick("/3/0/1", 101, 6*time.Second, 1, true)
	require.True(t, d.ShouldNotify)
	require.True(t, d.Confirmable)
}
