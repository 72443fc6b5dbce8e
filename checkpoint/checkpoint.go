package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/INLOpen/worldsync/core"
)

// maxPayload rejects corrupt length fields before allocating.
const maxPayload = 1 << 31

// Write atomically replaces dir/name with a framed payload: header,
// payload length, payload, CRC32 of the payload. The frame is written to a
// temp file, synced, closed, then renamed over the final name.
func Write(dir, name string, hdr core.FileHeader, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tempPath := filepath.Join(dir, core.FormatTempFilename(name, "tmp"))
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := writeFrame(w, hdr, payload); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}
	// Close before rename; Windows refuses to rename open files.
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp checkpoint file before rename: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp checkpoint file to final name: %w", err)
	}
	return nil
}

func writeFrame(w io.Writer, hdr core.FileHeader, payload []byte) error {
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write checkpoint header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write payload length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	return nil
}

// Read loads dir/name and verifies its magic number and checksum. A missing
// file is reported with found=false and no error.
func Read(dir, name string, magic uint32) (hdr core.FileHeader, payload []byte, found bool, err error) {
	file, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hdr, nil, false, nil
		}
		return hdr, nil, false, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, true, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	if hdr.Magic != magic {
		return hdr, nil, true, fmt.Errorf("invalid checkpoint magic number: got %x, want %x", hdr.Magic, magic)
	}
	if hdr.Version > core.FormatVersion {
		return hdr, nil, true, fmt.Errorf("unsupported checkpoint version: got %d, want <= %d", hdr.Version, core.FormatVersion)
	}

	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return hdr, nil, true, fmt.Errorf("failed to read payload length: %w", err)
	}
	if uint64(size) > maxPayload {
		return hdr, nil, true, fmt.Errorf("payload length %d exceeds limit", size)
	}
	payload = make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return hdr, nil, true, fmt.Errorf("failed to read payload (expected %d bytes): %w", size, err)
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return hdr, nil, true, fmt.Errorf("failed to read checksum: %w", err)
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return hdr, nil, true, fmt.Errorf("checksum mismatch in %s", name)
	}
	return hdr, payload, true, nil
}

// Remove deletes dir/name. A missing file is not an error.
func Remove(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", name, err)
	}
	return nil
}
