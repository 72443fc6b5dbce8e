package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/worldsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagic uint32 = 0xC0FFEE01

func TestCheckpoint_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	hdr := core.NewFileHeader(testMagic, core.CompressionSnappy)

	require.NoError(t, Write(dir, "state.wsc", hdr, []byte("payload")))

	_, err := os.Stat(filepath.Join(dir, core.FormatTempFilename("state.wsc", "tmp")))
	require.True(t, os.IsNotExist(err), "temp file must be gone after a successful write")

	got, payload, found, err := Read(dir, "state.wsc", testMagic)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hdr, got)
	assert.Equal(t, []byte("payload"), payload)
}

func TestCheckpoint_ReadMissing(t *testing.T) {
	_, payload, found, err := Read(t.TempDir(), "nope", testMagic)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, payload)
}

func TestCheckpoint_Overwrite(t *testing.T) {
	dir := t.TempDir()
	hdr := core.NewFileHeader(testMagic, core.CompressionNone)
	require.NoError(t, Write(dir, "f", hdr, []byte("one")))
	require.NoError(t, Write(dir, "f", hdr, []byte("two")))

	_, payload, _, err := Read(dir, "f", testMagic)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), payload)
}

func TestCheckpoint_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	hdr := core.NewFileHeader(testMagic, core.CompressionNone)
	require.NoError(t, Write(dir, "f", hdr, []byte("important bytes")))

	path := filepath.Join(dir, "f")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-6] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, found, err := Read(dir, "f", testMagic)
	assert.True(t, found)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestCheckpoint_WrongMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "f", core.NewFileHeader(testMagic, core.CompressionNone), nil))
	_, _, _, err := Read(dir, "f", testMagic+1)
	require.Error(t, err)
}

func TestCheckpoint_Remove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "f", core.NewFileHeader(testMagic, core.CompressionNone), []byte("x")))
	require.NoError(t, Remove(dir, "f"))
	require.NoError(t, Remove(dir, "f"))
	_, _, found, err := Read(dir, "f", testMagic)
	require.NoError(t, err)
	assert.False(t, found)
}
