package fonts

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

// writeFont writes data to dir/rel, creating parent directories
func writeFont(t *testing.T, dir, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// writeGoRegular writes the Go Regular TrueType font to dir/rel
func writeGoRegular(t *testing.T, dir, rel string) string {
	t.Helper()
	return writeFont(t, dir, rel, goregular.TTF)
}

// collectionOf wraps a single-font file in a one-entry TrueType collection.
// Table offsets are absolute, so each is shifted by the header size.
func collectionOf(t *testing.T, single []byte) []byte {
	t.Helper()
	const header = 16

	out := make([]byte, header+len(single))
	copy(out, "ttcf")
	binary.BigEndian.PutUint32(out[4:], 0x00010000)
	binary.BigEndian.PutUint32(out[8:], 1)
	binary.BigEndian.PutUint32(out[12:], header)
	copy(out[header:], single)

	numTables := int(binary.BigEndian.Uint16(single[4:]))
	for i := 0; i < numTables; i++ {
		field := header + 12 + 16*i + 8
		offset := binary.BigEndian.Uint32(out[field:])
		binary.BigEndian.PutUint32(out[field:], offset+header)
	}
	return out
}

// minimalOS2 builds a table directory holding only an OS/2 table with fsType
func minimalOS2(fsType uint16) []byte {
	out := make([]byte, 12+16+10)
	binary.BigEndian.PutUint32(out[0:], 0x00010000)
	binary.BigEndian.PutUint16(out[4:], 1)
	copy(out[12:], "OS/2")
	binary.BigEndian.PutUint32(out[12+8:], 28)
	binary.BigEndian.PutUint32(out[12+12:], 10)
	binary.BigEndian.PutUint16(out[28+8:], fsType)
	return out
}
