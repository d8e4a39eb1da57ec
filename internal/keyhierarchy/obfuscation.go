package keyhierarchy

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// processMask is a rolling, process-wide XOR key used to obfuscate
// in-memory secrets at rest. It is not a confidentiality boundary: a
// debugger attached to the process, or a core dump, recovers the key
// trivially. Its only purpose is to raise the cost of casual memory
// scraping (e.g. a scan for a known key length or entropy profile).
var (
	maskMu  sync.RWMutex
	maskKey uint64
	maskSet bool
)

func currentMask() uint64 {
	maskMu.RLock()
	if maskSet {
		k := maskKey
		maskMu.RUnlock()
		return k
	}
	maskMu.RUnlock()

	maskMu.Lock()
	defer maskMu.Unlock()
	if !maskSet {
		maskKey = randomMask()
		maskSet = true
	}
	return maskKey
}

// RotateObfuscationKey generates a new process-wide mask key. Secrets
// already masked under the prior key keep their own key alongside their
// masked bytes, so rotation affects only secrets masked afterward.
func RotateObfuscationKey() {
	maskMu.Lock()
	defer maskMu.Unlock()
	maskKey = randomMask()
	maskSet = true
}

func randomMask() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func xorMask(data []byte, key uint64) []byte {
	var keyBytes [8]byte
	binary.BigEndian.PutUint64(keyBytes[:], key)
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ keyBytes[i%8]
	}
	return out
}

// MaskedSecret holds a byte slice under the current process-wide XOR
// mask. It is not a security boundary; see the package doc comment.
type MaskedSecret struct {
	masked []byte
	key    uint64
}

// NewMaskedSecret masks data under the current process-wide key. The
// original data is not modified or copied beyond the mask; callers still
// own the slice they passed in.
func NewMaskedSecret(data []byte) *MaskedSecret {
	key := currentMask()
	return &MaskedSecret{masked: xorMask(data, key), key: key}
}

// Reveal returns a fresh copy of the unmasked secret. Callers must wipe
// the returned slice with SecureWipeBytes once done with it.
func (m *MaskedSecret) Reveal() []byte {
	return xorMask(m.masked, m.key)
}

// Zeroize wipes the masked bytes and clears the key. Reveal after
// Zeroize returns an empty slice.
func (m *MaskedSecret) Zeroize() {
	singlePassWipe(m.masked)
	m.masked = nil
	m.key = 0
}

// String never prints the masked contents, matching the convention that
// obfuscated secrets must not leak through default formatting.
func (m *MaskedSecret) String() string {
	return "***OBFUSCATED***"
}
