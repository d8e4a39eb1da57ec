// Package keyhierarchy derives witnessd's device identity from a BIP-39
// mnemonic folded with a silicon PUF response. The fold is intentionally
// non-deterministic: the resulting sensitive seed is generated once at
// enrollment and persisted by the platform secret store, not recomputed on
// every start.
package keyhierarchy

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tyler-smith/go-bip39"
)

// Version is the key-hierarchy derivation version. Bumping it changes the
// domain constants below and invalidates comparison against identities
// derived under an older version.
const Version = 1

const (
	identityChallengeDomain = "witnessd-identity-v1-challenge"
	hmacKeyDomain           = "witnessd-hmac-key-v1"
	signingKeyDomain        = "witnessd-signing-key-v1"
	expansionLabel          = "expansion"
)

// mnemonicEntropyBits selects a 12-word BIP-39 phrase (128 bits of entropy).
const mnemonicEntropyBits = 128

var (
	ErrInvalidMnemonic = errors.New("keyhierarchy: invalid mnemonic phrase")
	ErrDestroyed       = errors.New("keyhierarchy: key material already destroyed")
)

// PUFProvider supplies a device-bound, challenge-response physical
// fingerprint. SoftwarePUF is the fallback implementation used when no
// hardware PUF is available.
type PUFProvider interface {
	GetResponse(challenge []byte) ([]byte, error)
	DeviceID() string
}

// Identity is the public, shareable half of a device's key hierarchy.
type Identity struct {
	PublicKey   ed25519.PublicKey `json:"public_key"`
	Fingerprint string            `json:"fingerprint"`
	DeviceID    string            `json:"device_id"`
	CreatedAt   time.Time         `json:"created_at"`
	Version     int               `json:"version"`
}

// Keys holds one device's full key hierarchy: the Ed25519 signing keypair
// used to sign checkpoints, the HMAC key used to chain events, and the
// sensitive seed they were both derived from, kept under an obfuscation
// mask rather than in the clear.
type Keys struct {
	identity Identity
	signing  ed25519.PrivateKey
	hmacKey  [32]byte
	seed     *MaskedSecret
	wiped    bool
}

// GenerateMnemonic produces a fresh 12-word BIP-39 phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("keyhierarchy: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("keyhierarchy: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// DeriveSeed validates the mnemonic, computes its BIP-39 seed, and folds in
// a PUF response to produce a 64-byte sensitive seed:
//
//	folded = SHA256(bip39_seed || silicon_puf)
//	sensitive_seed = folded[0:32] || SHA256(folded || "expansion")[0:32]
//
// Because the PUF response is not guaranteed to reproduce, two calls with
// the same mnemonic on the same device are not expected to return the same
// seed. Callers derive once at enrollment and persist the result.
func DeriveSeed(mnemonic string, puf PUFProvider) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	bip39Seed := bip39.NewSeed(mnemonic, "")

	challenge := sha256.Sum256([]byte(identityChallengeDomain))
	pufResponse, err := puf.GetResponse(challenge[:])
	if err != nil {
		return nil, fmt.Errorf("keyhierarchy: puf response: %w", err)
	}

	foldInput := make([]byte, 0, len(bip39Seed)+len(pufResponse))
	foldInput = append(foldInput, bip39Seed...)
	foldInput = append(foldInput, pufResponse...)
	folded := sha256.Sum256(foldInput)

	expansionInput := make([]byte, 0, len(folded)+len(expansionLabel))
	expansionInput = append(expansionInput, folded[:]...)
	expansionInput = append(expansionInput, expansionLabel...)
	expansion := sha256.Sum256(expansionInput)

	sensitive := make([]byte, 64)
	copy(sensitive[0:32], folded[:])
	copy(sensitive[32:64], expansion[:32])

	SecureWipeBytes(bip39Seed, DefaultWipeConfig())
	SecureWipeSlice32(&folded)
	SecureWipeSlice32(&expansion)

	return sensitive, nil
}

// DeriveHMACKey computes the event-chain HMAC key from a sensitive seed:
// SHA256("witnessd-hmac-key-v1" || seed).
func DeriveHMACKey(seed []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(hmacKeyDomain))
	h.Write(seed)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveSigningKeypair derives an Ed25519 keypair from a sensitive seed.
// The seed is first passed through a domain-separating hash so the
// signing key cannot collide with the HMAC key even though both derive
// from the same seed.
func DeriveSigningKeypair(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	h := sha256.New()
	h.Write([]byte(signingKeyDomain))
	h.Write(seed)
	var ed25519Seed [32]byte
	copy(ed25519Seed[:], h.Sum(nil))

	priv := ed25519.NewKeyFromSeed(ed25519Seed[:])
	SecureWipeSlice32(&ed25519Seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// MachineFingerprint returns a short, non-sensitive diagnostic fingerprint
// derived from a sensitive seed: hex(SHA256(seed)[0:8]). It is safe to log
// or display; it does not reveal the seed.
func MachineFingerprint(seed []byte) string {
	h := sha256.Sum256(seed)
	return hex.EncodeToString(h[:8])
}

// Init derives a full key hierarchy from a mnemonic and PUF provider. The
// sensitive seed is wiped once the keys that depend on it have been
// computed; the caller receives only the derived keypair, HMAC key, and
// an obfuscated copy of the seed.
func Init(mnemonic string, puf PUFProvider) (*Keys, error) {
	seed, err := DeriveSeed(mnemonic, puf)
	if err != nil {
		return nil, err
	}

	hmacKey := DeriveHMACKey(seed)
	pub, priv := DeriveSigningKeypair(seed)
	fingerprint := MachineFingerprint(seed)
	masked := NewMaskedSecret(seed)

	SecureWipeBytes(seed, DefaultWipeConfig())

	return &Keys{
		identity: Identity{
			PublicKey:   pub,
			Fingerprint: fingerprint,
			DeviceID:    puf.DeviceID(),
			CreatedAt:   time.Now(),
			Version:     Version,
		},
		signing: priv,
		hmacKey: hmacKey,
		seed:    masked,
	}, nil
}

// Identity returns the public identity associated with these keys.
func (k *Keys) Identity() Identity {
	return k.identity
}

// HMACKey returns the event-chain HMAC key.
func (k *Keys) HMACKey() ([32]byte, error) {
	if k.wiped {
		return [32]byte{}, ErrDestroyed
	}
	return k.hmacKey, nil
}

// Sign signs data with the device's Ed25519 signing key.
func (k *Keys) Sign(data []byte) ([]byte, error) {
	if k.wiped {
		return nil, ErrDestroyed
	}
	return ed25519.Sign(k.signing, data), nil
}

// Seed reveals the sensitive seed. Callers must wipe the returned slice
// with SecureWipeBytes as soon as they are done with it.
func (k *Keys) Seed() ([]byte, error) {
	if k.wiped {
		return nil, ErrDestroyed
	}
	return k.seed.Reveal(), nil
}

// Destroy wipes all key material held by k. k is unusable afterward.
func (k *Keys) Destroy() {
	if k.wiped {
		return
	}
	SecureWipeSlice32(&k.hmacKey)
	singlePassWipe(k.signing)
	k.seed.Zeroize()
	k.wiped = true
}

// VerifySignature verifies an Ed25519 signature against a known public key.
func VerifySignature(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
