package attestation

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftwareProviderBindIncrementsCounter(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	b1, err := p.Bind([]byte("checkpoint-a"))
	require.NoError(t, err)
	b2, err := p.Bind([]byte("checkpoint-b"))
	require.NoError(t, err)

	require.Equal(t, uint64(1), b1.MonotonicCounter)
	require.Equal(t, uint64(2), b2.MonotonicCounter)
	require.False(t, b1.Hardware)
}

func TestSoftwareProviderBindDeterministicHash(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	data := []byte("document content")
	b, err := p.Bind(data)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	require.Equal(t, want, b.Hash)
}

func TestVerifySoftwareBinding(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	b, err := p.Bind([]byte("doc"))
	require.NoError(t, err)
	require.NoError(t, Verify(b, nil))

	tampered := *b
	tampered.Hash[0] ^= 0xFF
	require.Error(t, Verify(&tampered, nil))
}

func TestVerifyChainDetectsRollback(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	b1, err := p.Bind([]byte("first"))
	require.NoError(t, err)
	b2, err := p.Bind([]byte("second"))
	require.NoError(t, err)

	require.NoError(t, VerifyChain([]*Binding{b1, b2}, nil))
	require.Error(t, VerifyChain([]*Binding{b2, b1}, nil))
}

func TestVerifyChainRejectsMissingSignature(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	b, err := p.Bind([]byte("doc"))
	require.NoError(t, err)
	b.Signature = nil

	require.ErrorIs(t, VerifyChain([]*Binding{b}, nil), ErrInvalidSignature)
}

func TestBindingEncodeDecodeRoundTrip(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	b, err := p.Bind([]byte("doc"))
	require.NoError(t, err)

	encoded, err := b.Encode()
	require.NoError(t, err)

	decoded, err := DecodeBinding(encoded)
	require.NoError(t, err)
	require.Equal(t, b.Hash, decoded.Hash)
	require.Equal(t, b.MonotonicCounter, decoded.MonotonicCounter)
}

func TestDetectProviderNeverNil(t *testing.T) {
	p := DetectProvider()
	require.NotNil(t, p)
	defer p.Close()
	require.NotEmpty(t, p.Name())
}
