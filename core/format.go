package core

import (
	"encoding/binary"
	"time"
)

const (
	// CacheImageMagic opens every persisted state cache image.
	CacheImageMagic uint32 = 0x57534331 // "WSC1"
	// FormatVersion is the current version of the cache image framing.
	FormatVersion uint8 = 1
	// CacheImageFileSuffix is appended to the identity key by the file backend.
	CacheImageFileSuffix = ".wsc"
)

// FileHeader precedes every persisted cache image.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano
	CompressorType CompressionType
}

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

// FormatTempFilename names the scratch file used while a file is being replaced.
func FormatTempFilename(name, suffix string) string {
	return name + "." + suffix
}
