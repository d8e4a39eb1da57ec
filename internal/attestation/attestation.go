// Package attestation implements the hardware-or-software attestation
// provider that binds checkpoint hashes to a monotonic, signed commitment.
//
// A TPM 2.0 device is used when present (see hardware_linux.go); otherwise
// the software fallback produces a hash-only, explicitly non-authenticated
// "signature" and its own per-instance monotonic counter. Both paths satisfy
// the same Provider interface so callers never need to know which is active.
package attestation

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"witnessd/internal/checkpoint"
)

func randRead(b []byte) (int, error) {
	return cryptorand.Read(b)
}

// BindingDomain is the version prefix for the bind() commitment pre-image.
const BindingDomain = "witnessd-attestation-v1"

var (
	// ErrNotAvailable is returned by a provider that cannot currently bind.
	ErrNotAvailable = errors.New("attestation: provider not available")
	// ErrCounterRollback is returned when a binding chain's counters are
	// not strictly increasing.
	ErrCounterRollback = errors.New("attestation: monotonic counter did not increase")
	// ErrInvalidSignature is returned when a binding fails verification.
	ErrInvalidSignature = errors.New("attestation: signature verification failed")
)

// Binding is a signed commitment over one 32-byte hash (normally a
// checkpoint hash), produced by bind().
type Binding struct {
	Provider         string    `json:"provider"`
	DeviceID         []byte    `json:"device_id"`
	Timestamp        time.Time `json:"timestamp"`
	Hash             [32]byte  `json:"hash"`
	Signature        []byte    `json:"signature"`
	PublicKey        []byte    `json:"public_key"`
	MonotonicCounter uint64    `json:"monotonic_counter"`
	Hardware         bool      `json:"hardware"`
	SafeClock        bool      `json:"safe_clock"`
}

// preimage computes SHA256(data) || timestamp_le || device_id, the
// pre-image bind() commits to.
func preimage(data []byte, ts time.Time, deviceID []byte) []byte {
	sum := sha256.Sum256(data)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	out := make([]byte, 0, 32+8+len(deviceID))
	out = append(out, sum[:]...)
	out = append(out, buf[:]...)
	out = append(out, deviceID...)
	return out
}

// Provider abstracts hardware and software attestation.
type Provider interface {
	// Available reports whether this provider can currently bind.
	Available() bool
	// Name identifies the provider ("tpm-2.0", "software", ...).
	Name() string
	// DeviceID returns a stable per-instance identifier.
	DeviceID() ([]byte, error)
	// Bind produces a signed commitment over data's SHA-256 hash.
	Bind(data []byte) (*Binding, error)
	// Close releases any held resources.
	Close() error
}

// DetectProvider returns a hardware TPM provider if one is present and
// usable, otherwise a software fallback. The caller should defer Close.
func DetectProvider() Provider {
	if hw := detectHardware(); hw != nil && hw.Available() {
		return hw
	}
	return NewSoftwareProvider()
}

// SoftwareProvider simulates attestation with a per-instance monotonic
// counter and a SHA-256 "signature" that is explicitly not authenticated:
// it proves the data was bound by this process instance, not that any
// particular key holder produced it. Downstream verification must treat
// software bindings as weaker than hardware ones.
type SoftwareProvider struct {
	mu       sync.Mutex
	deviceID []byte
	counter  uint64
}

// NewSoftwareProvider creates a software attestation provider with a fresh
// random device id.
func NewSoftwareProvider() *SoftwareProvider {
	id := make([]byte, 16)
	_, _ = randRead(id)
	return &SoftwareProvider{deviceID: id}
}

func (s *SoftwareProvider) Available() bool { return true }
func (s *SoftwareProvider) Name() string    { return "software" }

func (s *SoftwareProvider) DeviceID() ([]byte, error) {
	return s.deviceID, nil
}

func (s *SoftwareProvider) Bind(data []byte) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ts := time.Now().UTC()
	hash := sha256.Sum256(data)
	sig := sha256.Sum256(preimage(data, ts, s.deviceID))

	return &Binding{
		Provider:         s.Name(),
		DeviceID:         append([]byte(nil), s.deviceID...),
		Timestamp:        ts,
		Hash:             hash,
		Signature:        sig[:],
		PublicKey:        nil,
		MonotonicCounter: s.counter,
		Hardware:         false,
		SafeClock:        true,
	}, nil
}

func (s *SoftwareProvider) Close() error { return nil }

// Verify checks one binding. Software bindings are recomputed and
// compared; hardware bindings with an embedded Ed25519 public key are
// checked against their signature, and are otherwise accepted permissively
// (a documented caveat) unless trustedKeys is non-empty, in which case the
// binding's public key must appear in it.
func Verify(b *Binding, trustedKeys [][]byte) error {
	if b == nil {
		return ErrInvalidSignature
	}
	if len(b.Signature) == 0 {
		return ErrInvalidSignature
	}

	if !b.Hardware {
		sum := sha256.Sum256(preimage(b.Hash[:], b.Timestamp, b.DeviceID))
		if !bytesEqual(sum[:], b.Signature) {
			return ErrInvalidSignature
		}
		return nil
	}

	if len(trustedKeys) > 0 {
		found := false
		for _, k := range trustedKeys {
			if bytesEqual(k, b.PublicKey) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("attestation: public key not in trusted set")
		}
	}

	if len(b.PublicKey) == ed25519.PublicKeySize {
		if !ed25519.Verify(b.PublicKey, b.Hash[:], b.Signature) {
			return ErrInvalidSignature
		}
	}
	// No trusted key set and no verifiable Ed25519 key: accept permissively,
	// per the documented hardware-attestation trust-policy decision.
	return nil
}

// VerifyChain verifies every binding and enforces that monotonic counters
// from the same provider instance strictly increase across the slice in
// order.
func VerifyChain(bindings []*Binding, trustedKeys [][]byte) error {
	var lastCounter uint64
	var haveLast bool
	for i, b := range bindings {
		if err := Verify(b, trustedKeys); err != nil {
			return fmt.Errorf("attestation: binding %d: %w", i, err)
		}
		if haveLast && b.MonotonicCounter <= lastCounter {
			return fmt.Errorf("attestation: binding %d: %w", i, ErrCounterRollback)
		}
		lastCounter = b.MonotonicCounter
		haveLast = true
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ToCheckpointAttestation converts a Binding to the shape
// internal/checkpoint embeds in a Checkpoint, so a caller can pass the
// result of Bind straight into checkpoint.CommitOptions.
func (b *Binding) ToCheckpointAttestation() *checkpoint.Attestation {
	if b == nil {
		return nil
	}
	return &checkpoint.Attestation{
		MonotonicCounter: b.MonotonicCounter,
		Data:             b.Hash[:],
		Signature:        b.Signature,
		PublicKey:        b.PublicKey,
		Hardware:         b.Hardware,
	}
}

// Encode serializes a binding to JSON.
func (b *Binding) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// DecodeBinding deserializes a binding from JSON.
func DecodeBinding(data []byte) (*Binding, error) {
	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
