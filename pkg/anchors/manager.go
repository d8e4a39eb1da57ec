package anchors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// bestProofOrder ranks providers by evidentiary strength: a public
// blockchain beats a timestamp authority beats a bare notary service.
var bestProofOrder = []string{"bitcoin", "ethereum", "opentimestamps", "rfc3161", "notary"}

// Anchor is the result of anchoring one hash, potentially with one proof
// per enabled provider when the manager runs in multi-anchor mode.
type Anchor struct {
	Hash   [32]byte `json:"hash"`
	Proofs []*Proof `json:"proofs"`
}

// BestProof returns the highest-ranked confirmed proof, or the first proof
// of any status if none are confirmed yet.
func (a *Anchor) BestProof() *Proof {
	if len(a.Proofs) == 0 {
		return nil
	}

	rank := func(provider string) int {
		for i, name := range bestProofOrder {
			if name == provider {
				return i
			}
		}
		return len(bestProofOrder)
	}

	var best *Proof
	bestRank := len(bestProofOrder) + 1
	for _, p := range a.Proofs {
		if !p.IsConfirmed() {
			continue
		}
		if r := rank(p.Provider); r < bestRank {
			best = p
			bestRank = r
		}
	}
	if best != nil {
		return best
	}
	return a.Proofs[0]
}

// Manager coordinates anchoring a hash across a Registry's enabled
// providers, refreshing pending proofs, and verifying confirmed ones.
type Manager struct {
	registry  *Registry
	multiMode bool
}

// NewManager creates a Manager bound to a Registry. multiMode controls
// whether anchor() collects every provider's proof (true) or stops after
// the first success (false).
func NewManager(registry *Registry, multiMode bool) *Manager {
	return &Manager{registry: registry, multiMode: multiMode}
}

// Anchor submits hash to each enabled provider, collecting every success in
// multi-anchor mode or stopping at the first in single mode. It fails only
// when no provider succeeds.
func (m *Manager) Anchor(ctx context.Context, hash [32]byte) (*Anchor, error) {
	providers := m.registry.EnabledProviders()
	if len(providers) == 0 {
		return nil, errors.New("anchors: no providers enabled")
	}

	anchor := &Anchor{Hash: hash}
	var errs []error

	for _, p := range providers {
		proof, err := p.Timestamp(ctx, hash)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		anchor.Proofs = append(anchor.Proofs, proof)
		if !m.multiMode {
			break
		}
	}

	if len(anchor.Proofs) == 0 {
		return nil, fmt.Errorf("anchors: all providers failed: %v", errs)
	}
	return anchor, nil
}

// Refresh calls each pending proof's provider to check status, then
// attempts an upgrade (e.g. RFC3161 promoted to a blockchain anchor).
func (m *Manager) Refresh(ctx context.Context, anchor *Anchor) error {
	for i, proof := range anchor.Proofs {
		if !proof.IsPending() {
			continue
		}
		p, ok := m.registry.Get(proof.Provider)
		if !ok {
			continue
		}
		upgraded, err := p.Upgrade(ctx, proof)
		if err != nil {
			if errors.Is(err, ErrProofPending) {
				continue
			}
			return fmt.Errorf("anchors: refresh %s: %w", proof.Provider, err)
		}
		anchor.Proofs[i] = upgraded
	}
	return nil
}

// VerifyAnchor checks every confirmed proof in anchor, rejecting on a hash
// mismatch against anchor.Hash, and returns true on the first proof that
// verifies.
func (m *Manager) VerifyAnchor(ctx context.Context, anchor *Anchor) (bool, error) {
	for _, proof := range anchor.Proofs {
		if !proof.IsConfirmed() {
			continue
		}
		if !bytes.Equal(proof.Hash[:], anchor.Hash[:]) {
			return false, fmt.Errorf("anchors: %s: hash_mismatch", proof.Provider)
		}
		p, ok := m.registry.Get(proof.Provider)
		if !ok {
			continue
		}
		result, err := p.Verify(ctx, proof)
		if err != nil {
			continue
		}
		if result.Valid {
			return true, nil
		}
	}
	return false, nil
}
