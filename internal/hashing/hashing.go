// Package hashing provides the deterministic content digests used
// throughout the evidence chain: file content hashes and the event-record
// pre-image fixed by the event chain (see internal/checkpoint).
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// EventDomain is the version prefix for event hash pre-images.
const EventDomain = "witnessd-event-v1"

// HashFile streams a file's contents through SHA-256. There is no
// constraint on file size.
func HashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("hashing: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, fmt.Errorf("hashing: read %s: %w", path, err)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashBytes hashes an in-memory buffer.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashEvent fixes the event-record pre-image:
//
//	SHA256(EventDomain || device_id || ts_be || path || content_hash || size_be || delta_be || previous_hash)
//
// ts is a nanosecond UNIX timestamp; size is the file size in bytes; delta
// is the signed size change since the prior event for the same path.
func HashEvent(deviceID [16]byte, ts int64, path string, contentHash [32]byte, size int64, delta int64, previousHash [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(EventDomain))
	h.Write(deviceID[:])

	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], uint64(ts))
	h.Write(buf8[:])

	h.Write([]byte(path))
	h.Write(contentHash[:])

	binary.BigEndian.PutUint64(buf8[:], uint64(size))
	h.Write(buf8[:])

	binary.BigEndian.PutUint64(buf8[:], uint64(delta))
	h.Write(buf8[:])

	h.Write(previousHash[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
