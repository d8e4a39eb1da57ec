package checkpoint

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"witnessd/internal/hashing"
)

// ErrEventOutOfOrder is returned when an event's ordinal does not
// immediately follow the log's current tail.
var ErrEventOutOfOrder = errors.New("checkpoint: event ordinal out of order")

// Event is one observation of document state: a file changed, was read, or
// the sampler otherwise recorded authorial activity. Ordinals start at 1
// per session and are strictly sequential; there is at most one Event per
// ordinal.
type Event struct {
	Ordinal      uint64   `json:"ordinal"`
	Timestamp    int64    `json:"timestamp_ns"`
	DeviceID     [16]byte `json:"device_id"`
	Path         string   `json:"path"`
	ContentHash  [32]byte `json:"content_hash"`
	Size         int64    `json:"size"`
	Delta        int64    `json:"delta"`
	PreviousHash [32]byte `json:"previous_hash"`
	Hash         [32]byte `json:"hash"`
	HMAC         [32]byte `json:"hmac"`
}

// computeHMAC binds an event to the session's HMAC key over the same
// tuple fixed by the event hash, so a verifier holding the key can confirm
// both that the event wasn't altered and that it was produced by the
// holder of that key.
func computeEventHMAC(key [32]byte, e *Event) [32]byte {
	h := hmac.New(sha256.New, key[:])
	h.Write([]byte(hashing.EventDomain))
	h.Write(e.DeviceID[:])
	var buf [8]byte
	putUint64BE(buf[:], uint64(e.Timestamp))
	h.Write(buf[:])
	h.Write([]byte(e.Path))
	h.Write(e.ContentHash[:])
	putUint64BE(buf[:], uint64(e.Size))
	h.Write(buf[:])
	putUint64BE(buf[:], uint64(e.Delta))
	h.Write(buf[:])
	h.Write(e.PreviousHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// EventLog is an append-only, HMAC-chained sequence of Events for one
// session. It is safe for concurrent use.
type EventLog struct {
	mu       sync.RWMutex
	deviceID [16]byte
	hmacKey  [32]byte
	events   []Event
	lastSize map[string]int64 // path -> most recent observed size, for Delta
}

// NewEventLog creates an empty log bound to a device id and HMAC key (see
// internal/keyhierarchy.Keys.HMACKey).
func NewEventLog(deviceID [16]byte, hmacKey [32]byte) *EventLog {
	return &EventLog{
		deviceID: deviceID,
		hmacKey:  hmacKey,
		lastSize: make(map[string]int64),
	}
}

// Append records one observation of path at the given timestamp and
// content hash, computing size delta from the log's own history for that
// path and chaining from the log's current tail.
func (l *EventLog) Append(ts time.Time, path string, contentHash [32]byte, size int64) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ordinal := uint64(len(l.events)) + 1

	var previousHash [32]byte
	if len(l.events) > 0 {
		previousHash = l.events[len(l.events)-1].Hash
	}

	delta := size - l.lastSize[path]

	e := Event{
		Ordinal:      ordinal,
		Timestamp:    ts.UnixNano(),
		DeviceID:     l.deviceID,
		Path:         path,
		ContentHash:  contentHash,
		Size:         size,
		Delta:        delta,
		PreviousHash: previousHash,
	}
	e.Hash = hashing.HashEvent(e.DeviceID, e.Timestamp, e.Path, e.ContentHash, e.Size, e.Delta, e.PreviousHash)
	e.HMAC = computeEventHMAC(l.hmacKey, &e)

	l.events = append(l.events, e)
	l.lastSize[path] = size

	return &e, nil
}

// Events returns the full event sequence. The returned slice must not be
// mutated by the caller.
func (l *EventLog) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Tail returns the most recent event, or nil if the log is empty.
func (l *EventLog) Tail() *Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return nil
	}
	e := l.events[len(l.events)-1]
	return &e
}

// Verify replays the chain, confirming every hash and HMAC, and that
// ordinals are sequential starting at 1.
func (l *EventLog) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var previousHash [32]byte
	for i, e := range l.events {
		if e.Ordinal != uint64(i+1) {
			return fmt.Errorf("%w: event at index %d has ordinal %d", ErrEventOutOfOrder, i, e.Ordinal)
		}
		if e.PreviousHash != previousHash {
			return fmt.Errorf("checkpoint: event %d: broken chain link", e.Ordinal)
		}
		expectedHash := hashing.HashEvent(e.DeviceID, e.Timestamp, e.Path, e.ContentHash, e.Size, e.Delta, e.PreviousHash)
		if expectedHash != e.Hash {
			return fmt.Errorf("checkpoint: event %d: hash mismatch", e.Ordinal)
		}
		expectedHMAC := computeEventHMAC(l.hmacKey, &e)
		if expectedHMAC != e.HMAC {
			return fmt.Errorf("checkpoint: event %d: HMAC mismatch", e.Ordinal)
		}
		previousHash = e.Hash
	}
	return nil
}
