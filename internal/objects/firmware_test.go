package objects

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
)

func TestFirmwareWriteAssemblesAcrossBlocksUsingMoreFlag(t *testing.T) {
	f := NewFirmware(101)
	path := registry.Path{Depth: 3, ObjectID: ObjectFirmware, InstanceID: 0, ResourceID: ResFirmwarePackage}

	blocks := [][]byte{[]byte("one-"), []byte("two-"), []byte("three")}
	for i, b := range blocks {
		more := i < len(blocks)-1
		err := f.Write(path, 101, b, &registry.Block1{Number: uint32(i), More: more, Size: len(b)})
		require.NoError(t, err)
	}

	require.Equal(t, FirmwareDownloaded, f.State)
	require.Equal(t, "one-two-three", string(f.buffer))
}

func TestFirmwareWriteWithoutBlockOptionIsSingleShot(t *testing.T) {
	f := NewFirmware(101)
	path := registry.Path{Depth: 3, ObjectID: ObjectFirmware, InstanceID: 0, ResourceID: ResFirmwarePackage}

	err := f.Write(path, 101, []byte("whole-image"), nil)
	require.NoError(t, err)
	require.Equal(t, FirmwareDownloaded, f.State)
}

func TestFirmwareWriteFailsVerifyTransitionsToIdleWithCRCResult(t *testing.T) {
	f := NewFirmware(101)
	f.Verify = func(data []byte) error { return lwm2merr.ErrInvalidEncoding }
	path := registry.Path{Depth: 3, ObjectID: ObjectFirmware, InstanceID: 0, ResourceID: ResFirmwarePackage}

	err := f.Write(path, 101, []byte("bad-image"), &registry.Block1{Number: 0, More: false, Size: 9})
	require.NoError(t, err)
	require.Equal(t, FirmwareIdle, f.State)
	require.Equal(t, UpdateResultCRC, f.UpdateResult)
}
