// Package checkpoint implements witnessd's two-tier content commit chain:
// Event (per-observation, see event.go) and Checkpoint (periodic, this
// file). A Checkpoint binds a content hash, a physical context capture, a
// VDF proof of elapsed time, an optional hardware attestation, and the
// MMR leaf index it was appended under into one signed, chained record.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"witnessd/internal/jitter"
	"witnessd/internal/physctx"
	"witnessd/internal/vdf"
)

// CheckpointDomain is the version prefix for the checkpoint hash pre-image.
const CheckpointDomain = "witnessd-checkpoint-v1"

// Attestation is the hardware or software binding attached to a
// checkpoint. It is defined here rather than imported from
// internal/attestation to avoid a dependency cycle; the attestation
// package produces values of this shape.
type Attestation struct {
	MonotonicCounter uint64 `json:"monotonic_counter"`
	Data             []byte `json:"data"`
	Signature        []byte `json:"signature"`
	PublicKey        []byte `json:"public_key"`
	Hardware         bool   `json:"hardware"`
}

// Checkpoint represents a single content commit in the chain.
type Checkpoint struct {
	Ordinal      uint64   `json:"ordinal"`
	PreviousHash [32]byte `json:"previous_hash"`
	Hash         [32]byte `json:"hash"`

	ContentHash [32]byte `json:"content_hash"`
	ContentSize int64    `json:"content_size"`
	FilePath    string   `json:"file_path"`

	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`

	PhysicalContext *physctx.Context `json:"physical_context,omitempty"`

	VDF *vdf.Proof `json:"vdf,omitempty"`

	Attestation *Attestation `json:"attestation,omitempty"`

	// MMRLeafIndex is the index this checkpoint's hash was appended at in
	// the document's Merkle Mountain Range (internal/mmr).
	MMRLeafIndex uint64 `json:"mmr_leaf_index"`

	// Signature is the Ed25519 signature over Hash, produced by the
	// device's signing key (internal/keyhierarchy).
	Signature []byte `json:"signature,omitempty"`
}

// Chain manages a sequence of checkpoints for a document.
type Chain struct {
	DocumentID   string    `json:"document_id"`
	DocumentPath string    `json:"document_path"`
	CreatedAt    time.Time `json:"created_at"`

	Checkpoints []*Checkpoint `json:"checkpoints"`

	VDFParams vdf.Parameters `json:"vdf_params"`

	storagePath string
}

// NewChain creates a new checkpoint chain for a document.
func NewChain(documentPath string, vdfParams vdf.Parameters) (*Chain, error) {
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, fmt.Errorf("invalid document path: %w", err)
	}

	pathHash := sha256.Sum256([]byte(absPath))
	docID := hex.EncodeToString(pathHash[:8])

	return &Chain{
		DocumentID:   docID,
		DocumentPath: absPath,
		CreatedAt:    time.Now(),
		Checkpoints:  make([]*Checkpoint, 0),
		VDFParams:    vdfParams,
	}, nil
}

// Signer signs a checkpoint hash. Implemented by internal/keyhierarchy.Keys.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// CommitOptions controls checkpoint creation.
type CommitOptions struct {
	Message      string
	VDFDuration  time.Duration // zero means derive from wall-clock since prior checkpoint
	RecentJitter []jitter.Sample
	Attestation  *Attestation
	Signer       Signer
}

// Commit creates a new checkpoint for the current document state.
func (c *Chain) Commit(opts CommitOptions) (*Checkpoint, error) {
	content, err := os.ReadFile(c.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	contentHash := sha256.Sum256(content)
	ordinal := uint64(len(c.Checkpoints))

	var previousHash [32]byte
	var lastTimestamp time.Time
	if ordinal > 0 {
		prev := c.Checkpoints[ordinal-1]
		previousHash = prev.Hash
		lastTimestamp = prev.Timestamp
	}

	now := time.Now()

	cp := &Checkpoint{
		Ordinal:         ordinal,
		PreviousHash:    previousHash,
		ContentHash:     contentHash,
		ContentSize:     int64(len(content)),
		FilePath:        c.DocumentPath,
		Timestamp:       now,
		Message:         opts.Message,
		PhysicalContext: physicalContext(opts.RecentJitter),
		Attestation:     opts.Attestation,
		MMRLeafIndex:    ordinal,
	}

	if ordinal > 0 {
		duration := opts.VDFDuration
		if duration == 0 {
			duration = now.Sub(lastTimestamp)
		}
		vdfInput := vdf.ChainInput(contentHash, previousHash, ordinal)
		vdfProof, err := vdf.Compute(vdfInput, duration, c.VDFParams)
		if err != nil {
			return nil, fmt.Errorf("failed to compute VDF: %w", err)
		}
		cp.VDF = vdfProof
	}

	cp.Hash = cp.computeHash()

	if opts.Signer != nil {
		sig, err := opts.Signer.Sign(cp.Hash[:])
		if err != nil {
			return nil, fmt.Errorf("failed to sign checkpoint: %w", err)
		}
		cp.Signature = sig
	}

	c.Checkpoints = append(c.Checkpoints, cp)
	return cp, nil
}

func physicalContext(recent []jitter.Sample) *physctx.Context {
	ctx := physctx.Capture(recent)
	return &ctx
}

// computeHash fixes the checkpoint pre-image:
//
//	SHA256("witnessd-checkpoint-v1" || ordinal_be || content_hash ||
//	    previous_ckpt_hash || physical_context_hash || vdf_output)
func (cp *Checkpoint) computeHash() [32]byte {
	h := sha256.New()
	h.Write([]byte(CheckpointDomain))

	var buf [8]byte
	putUint64BE(buf[:], cp.Ordinal)
	h.Write(buf[:])

	h.Write(cp.ContentHash[:])
	h.Write(cp.PreviousHash[:])

	if cp.PhysicalContext != nil {
		h.Write(cp.PhysicalContext.CombinedHash[:])
	} else {
		var zero [32]byte
		h.Write(zero[:])
	}

	if cp.VDF != nil {
		h.Write(cp.VDF.Output[:])
	} else {
		var zero [32]byte
		h.Write(zero[:])
	}

	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

// Verify checks the integrity of the entire chain: hash chaining, VDF
// proofs for every non-first checkpoint, and signatures where present.
func (c *Chain) Verify(verifySig func(hash [32]byte, sig []byte) bool) error {
	for i, cp := range c.Checkpoints {
		computed := cp.computeHash()
		if computed != cp.Hash {
			return fmt.Errorf("checkpoint %d: hash mismatch", i)
		}

		if i > 0 {
			if cp.PreviousHash != c.Checkpoints[i-1].Hash {
				return fmt.Errorf("checkpoint %d: broken chain link", i)
			}
		} else if cp.PreviousHash != ([32]byte{}) {
			return fmt.Errorf("checkpoint 0: non-zero previous hash")
		}

		if i > 0 {
			if cp.VDF == nil {
				return fmt.Errorf("checkpoint %d: missing VDF proof (required for time verification)", i)
			}
			expectedInput := vdf.ChainInput(cp.ContentHash, cp.PreviousHash, cp.Ordinal)
			if cp.VDF.Input != expectedInput {
				return fmt.Errorf("checkpoint %d: VDF input mismatch", i)
			}
			if !vdf.Verify(cp.VDF) {
				return fmt.Errorf("checkpoint %d: VDF verification failed", i)
			}
		}

		if verifySig != nil && len(cp.Signature) > 0 {
			if !verifySig(cp.Hash, cp.Signature) {
				return fmt.Errorf("checkpoint %d: signature verification failed", i)
			}
		}
	}

	return nil
}

// TotalElapsedTime returns the sum of all VDF-proven elapsed times.
func (c *Chain) TotalElapsedTime() time.Duration {
	var total time.Duration
	for _, cp := range c.Checkpoints {
		if cp.VDF != nil {
			total += cp.VDF.MinElapsedTime(c.VDFParams)
		}
	}
	return total
}

// ChainSummary is a human-readable summary of the chain.
type ChainSummary struct {
	DocumentPath     string        `json:"document_path"`
	CheckpointCount  int           `json:"checkpoint_count"`
	FirstCommit      time.Time     `json:"first_commit"`
	LastCommit       time.Time     `json:"last_commit"`
	TotalElapsedTime time.Duration `json:"total_elapsed_time"`
	FinalContentHash string        `json:"final_content_hash"`
	ChainValid       bool          `json:"chain_valid"`
}

func (c *Chain) Summary() ChainSummary {
	s := ChainSummary{
		DocumentPath:    c.DocumentPath,
		CheckpointCount: len(c.Checkpoints),
	}

	if len(c.Checkpoints) > 0 {
		s.FirstCommit = c.Checkpoints[0].Timestamp
		s.LastCommit = c.Checkpoints[len(c.Checkpoints)-1].Timestamp
		s.FinalContentHash = hex.EncodeToString(c.Checkpoints[len(c.Checkpoints)-1].ContentHash[:])
	}

	s.TotalElapsedTime = c.TotalElapsedTime()
	s.ChainValid = c.Verify(nil) == nil

	return s
}

// Save persists the chain to disk.
func (c *Chain) Save(path string) error {
	c.storagePath = path

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write chain: %w", err)
	}

	return nil
}

// Load reads a chain from disk.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}

	var c Chain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %w", err)
	}

	c.storagePath = path
	return &c, nil
}

// FindChain locates the chain file for a document.
func FindChain(documentPath string, witnessdDir string) (string, error) {
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return "", err
	}

	pathHash := sha256.Sum256([]byte(absPath))
	docID := hex.EncodeToString(pathHash[:8])

	chainPath := filepath.Join(witnessdDir, "chains", docID+".json")
	if _, err := os.Stat(chainPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no chain found for %s", documentPath)
		}
		return "", err
	}

	return chainPath, nil
}

// GetOrCreateChain loads an existing chain or creates a new one.
func GetOrCreateChain(documentPath string, witnessdDir string, vdfParams vdf.Parameters) (*Chain, error) {
	chainPath, err := FindChain(documentPath, witnessdDir)
	if err == nil {
		return Load(chainPath)
	}

	chain, err := NewChain(documentPath, vdfParams)
	if err != nil {
		return nil, err
	}

	absPath, _ := filepath.Abs(documentPath)
	pathHash := sha256.Sum256([]byte(absPath))
	docID := hex.EncodeToString(pathHash[:8])
	chain.storagePath = filepath.Join(witnessdDir, "chains", docID+".json")

	return chain, nil
}

// Latest returns the most recent checkpoint, or nil if empty.
func (c *Chain) Latest() *Checkpoint {
	if len(c.Checkpoints) == 0 {
		return nil
	}
	return c.Checkpoints[len(c.Checkpoints)-1]
}

// At returns the checkpoint at a specific ordinal.
func (c *Chain) At(ordinal uint64) (*Checkpoint, error) {
	if ordinal >= uint64(len(c.Checkpoints)) {
		return nil, errors.New("ordinal out of range")
	}
	return c.Checkpoints[ordinal], nil
}

// StoragePath returns where the chain is persisted.
func (c *Chain) StoragePath() string {
	return c.storagePath
}
