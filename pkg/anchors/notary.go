// Notary provider implementation.
//
// Notary is a generic REST anchoring service: it accepts a hash, returns a
// submission id and an opaque proof blob, and later reports confirmation
// status on request. It is the fallback of last resort when no public
// blockchain or RFC 3161 authority is configured — it requires network
// access and, optionally, bearer-token credentials.

package anchors

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// NotaryProvider implements Provider against a simple health/submit/status/
// verify JSON API.
type NotaryProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NotaryConfig configures a NotaryProvider.
type NotaryConfig struct {
	Endpoint string
	APIKey   string
}

// NewNotaryProvider creates a Notary provider. A blank endpoint makes the
// provider report itself unavailable until Configure sets one.
func NewNotaryProvider(cfg NotaryConfig) *NotaryProvider {
	return &NotaryProvider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewNotaryProviderFromEnv builds a provider from NOTARY_ENDPOINT and
// NOTARY_API_KEY, mirroring the reference implementation's from_env.
func NewNotaryProviderFromEnv() *NotaryProvider {
	return NewNotaryProvider(NotaryConfig{
		Endpoint: os.Getenv("NOTARY_ENDPOINT"),
		APIKey:   os.Getenv("NOTARY_API_KEY"),
	})
}

func (p *NotaryProvider) Name() string        { return "notary" }
func (p *NotaryProvider) DisplayName() string { return "Notary Service" }
func (p *NotaryProvider) Type() ProviderType  { return TypeGovernment }
func (p *NotaryProvider) Regions() []string   { return []string{"GLOBAL"} }
func (p *NotaryProvider) LegalStanding() LegalStanding {
	return StandingEvidentiary
}

func (p *NotaryProvider) postJSON(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	if p.endpoint == "" {
		return nil, ErrProviderDisabled
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s", trimTrailingSlash(p.endpoint), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notary: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("notary: read response: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("notary: invalid JSON response: %w", err)
	}
	if errVal, ok := out["error"]; ok && errVal != nil {
		return nil, fmt.Errorf("notary: %v", errVal)
	}
	return out, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (p *NotaryProvider) Timestamp(ctx context.Context, hash [32]byte) (*Proof, error) {
	resp, err := p.postJSON(ctx, "submit", map[string]any{"hash": hex.EncodeToString(hash[:])})
	if err != nil {
		return nil, err
	}

	var proofData []byte
	if s, ok := resp["proof"].(string); ok {
		proofData, _ = base64.StdEncoding.DecodeString(s)
	}

	meta := map[string]any{}
	if id, ok := resp["id"].(string); ok {
		meta["id"] = id
	} else {
		meta["id"] = fmt.Sprintf("notary-%s", hex.EncodeToString(hash[:8]))
	}

	return &Proof{
		Provider:  p.Name(),
		Version:   1,
		Hash:      hash,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
		RawProof:  proofData,
		Metadata:  meta,
	}, nil
}

func (p *NotaryProvider) Verify(ctx context.Context, proof *Proof) (*VerifyResult, error) {
	id, _ := proof.Metadata["id"].(string)
	resp, err := p.postJSON(ctx, "verify", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	valid, _ := resp["valid"].(bool)

	return &VerifyResult{
		Valid:        valid,
		Timestamp:    proof.Timestamp,
		VerifiedHash: proof.Hash,
		Provider:     p.Name(),
		Status:       proof.Status,
	}, nil
}

func (p *NotaryProvider) Upgrade(ctx context.Context, proof *Proof) (*Proof, error) {
	id, _ := proof.Metadata["id"].(string)
	resp, err := p.postJSON(ctx, "status", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	updated := *proof
	switch status, _ := resp["status"].(string); status {
	case "confirmed":
		updated.Status = StatusConfirmed
	case "failed":
		updated.Status = StatusFailed
	default:
		return &updated, ErrProofPending
	}
	return &updated, nil
}

func (p *NotaryProvider) RequiresPayment() bool     { return false }
func (p *NotaryProvider) RequiresNetwork() bool     { return true }
func (p *NotaryProvider) RequiresCredentials() bool { return false }

func (p *NotaryProvider) Configure(config map[string]interface{}) error {
	if endpoint, ok := config["endpoint"].(string); ok {
		p.endpoint = endpoint
	}
	if key, ok := config["api_key"].(string); ok {
		p.apiKey = key
	}
	return nil
}

func (p *NotaryProvider) Status(ctx context.Context) (*ProviderStatus, error) {
	if p.endpoint == "" {
		return &ProviderStatus{Available: false, Configured: false, LastCheck: time.Now(), Message: "no endpoint configured"}, nil
	}
	_, err := p.postJSON(ctx, "health", map[string]any{})
	if err != nil {
		return &ProviderStatus{Available: false, Configured: true, LastCheck: time.Now(), Message: err.Error()}, nil
	}
	return &ProviderStatus{Available: true, Configured: true, LastCheck: time.Now()}, nil
}
