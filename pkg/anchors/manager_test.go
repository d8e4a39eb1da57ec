package anchors

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal in-memory Provider for exercising Manager
// without network access.
type fakeProvider struct {
	name      string
	confirmed bool
	valid     bool
}

func (f *fakeProvider) Name() string                   { return f.name }
func (f *fakeProvider) DisplayName() string             { return f.name }
func (f *fakeProvider) Type() ProviderType              { return TypeBlockchain }
func (f *fakeProvider) Regions() []string               { return []string{"GLOBAL"} }
func (f *fakeProvider) LegalStanding() LegalStanding    { return StandingEvidentiary }
func (f *fakeProvider) RequiresPayment() bool           { return false }
func (f *fakeProvider) RequiresNetwork() bool           { return false }
func (f *fakeProvider) RequiresCredentials() bool       { return false }
func (f *fakeProvider) Configure(map[string]interface{}) error { return nil }

func (f *fakeProvider) Timestamp(ctx context.Context, hash [32]byte) (*Proof, error) {
	status := StatusPending
	if f.confirmed {
		status = StatusConfirmed
	}
	return &Proof{Provider: f.name, Hash: hash, Status: status}, nil
}

func (f *fakeProvider) Verify(ctx context.Context, proof *Proof) (*VerifyResult, error) {
	return &VerifyResult{Valid: f.valid, VerifiedHash: proof.Hash, Provider: f.name, Status: proof.Status}, nil
}

func (f *fakeProvider) Upgrade(ctx context.Context, proof *Proof) (*Proof, error) {
	if !f.confirmed {
		return proof, ErrProofPending
	}
	updated := *proof
	updated.Status = StatusConfirmed
	return &updated, nil
}

func (f *fakeProvider) Status(ctx context.Context) (*ProviderStatus, error) {
	return &ProviderStatus{Available: true, Configured: true}, nil
}

func TestAnchorCollectsAllProvidersInMultiMode(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	reg := NewRegistry()
	a := &fakeProvider{name: "a", confirmed: true}
	b := &fakeProvider{name: "b", confirmed: false}
	reg.RegisterProvider(a)
	reg.RegisterProvider(b)
	require.NoError(t, reg.Enable("a", nil))
	require.NoError(t, reg.Enable("b", nil))

	mgr := NewManager(reg, true)
	anchor, err := mgr.Anchor(context.Background(), hash)
	require.NoError(t, err)
	require.Len(t, anchor.Proofs, 2)
}

func TestAnchorStopsAtFirstInSingleMode(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	reg := NewRegistry()
	a := &fakeProvider{name: "a", confirmed: true}
	b := &fakeProvider{name: "b", confirmed: true}
	reg.RegisterProvider(a)
	reg.RegisterProvider(b)
	require.NoError(t, reg.Enable("a", nil))
	require.NoError(t, reg.Enable("b", nil))

	mgr := NewManager(reg, false)
	anchor, err := mgr.Anchor(context.Background(), hash)
	require.NoError(t, err)
	require.Len(t, anchor.Proofs, 1)
}

func TestAnchorFailsOnlyWhenAllProvidersFail(t *testing.T) {
	reg := NewRegistry()
	mgr := NewManager(reg, true)
	_, err := mgr.Anchor(context.Background(), sha256.Sum256([]byte("doc")))
	require.Error(t, err)
}

func TestBestProofPrefersBitcoinOverRFC3161(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	anchor := &Anchor{
		Hash: hash,
		Proofs: []*Proof{
			{Provider: "rfc3161", Hash: hash, Status: StatusConfirmed},
			{Provider: "bitcoin", Hash: hash, Status: StatusConfirmed},
		},
	}
	require.Equal(t, "bitcoin", anchor.BestProof().Provider)
}

func TestBestProofFallsBackToFirstWhenNoneConfirmed(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	anchor := &Anchor{
		Hash: hash,
		Proofs: []*Proof{
			{Provider: "notary", Hash: hash, Status: StatusPending},
		},
	}
	require.Equal(t, "notary", anchor.BestProof().Provider)
}

func TestVerifyAnchorRejectsHashMismatch(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{name: "a", confirmed: true, valid: true}
	reg.RegisterProvider(p)
	require.NoError(t, reg.Enable("a", nil))

	mgr := NewManager(reg, true)
	anchor := &Anchor{
		Hash: sha256.Sum256([]byte("doc")),
		Proofs: []*Proof{
			{Provider: "a", Hash: sha256.Sum256([]byte("different")), Status: StatusConfirmed},
		},
	}
	_, err := mgr.VerifyAnchor(context.Background(), anchor)
	require.Error(t, err)
}

func TestVerifyAnchorShortCircuitsOnFirstValid(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	reg := NewRegistry()
	p := &fakeProvider{name: "a", confirmed: true, valid: true}
	reg.RegisterProvider(p)
	require.NoError(t, reg.Enable("a", nil))

	mgr := NewManager(reg, true)
	anchor := &Anchor{Hash: hash, Proofs: []*Proof{{Provider: "a", Hash: hash, Status: StatusConfirmed}}}
	ok, err := mgr.VerifyAnchor(context.Background(), anchor)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefreshUpgradesPendingProof(t *testing.T) {
	hash := sha256.Sum256([]byte("doc"))
	reg := NewRegistry()
	p := &fakeProvider{name: "a", confirmed: true}
	reg.RegisterProvider(p)
	require.NoError(t, reg.Enable("a", nil))

	mgr := NewManager(reg, true)
	anchor := &Anchor{Hash: hash, Proofs: []*Proof{{Provider: "a", Hash: hash, Status: StatusPending}}}
	require.NoError(t, mgr.Refresh(context.Background(), anchor))
	require.True(t, anchor.Proofs[0].IsConfirmed())
}
