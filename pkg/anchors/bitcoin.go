// Bitcoin provider implementation.
//
// Anchors a hash by embedding it in an OP_RETURN output of a Bitcoin
// transaction and polling a public Esplora-compatible API (Blockstream by
// default) for confirmation. Submission requires a funded wallet; when no
// private key is configured the provider still supports Verify against a
// transaction id supplied out of band.

package anchors

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MaxOpReturnSize is Bitcoin's OP_RETURN payload limit.
const MaxOpReturnSize = 80

// opReturnWitnessdPrefix tags witnessd's OP_RETURN payloads so third-party
// scanners can distinguish them from other protocols sharing the output.
var opReturnWitnessdPrefix = []byte("WD")

// BitcoinConfig configures a BitcoinProvider.
type BitcoinConfig struct {
	// APIBase is an Esplora-compatible REST endpoint, e.g. Blockstream's
	// "https://blockstream.info/api".
	APIBase string
	// WalletPrivateKeyWIF funds OP_RETURN submissions; without it the
	// provider can still verify existing transactions.
	WalletPrivateKeyWIF string
	MinConfirmations    int
}

// BitcoinProvider implements Provider by anchoring to the Bitcoin
// blockchain via OP_RETURN.
type BitcoinProvider struct {
	apiBase          string
	privateKeyWIF    string
	minConfirmations int
	httpClient       *http.Client
}

// NewBitcoinProvider creates a Bitcoin anchor provider.
func NewBitcoinProvider(cfg BitcoinConfig) *BitcoinProvider {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://blockstream.info/api"
	}
	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = 1
	}
	return &BitcoinProvider{
		apiBase:          apiBase,
		privateKeyWIF:    cfg.WalletPrivateKeyWIF,
		minConfirmations: minConf,
		httpClient:       &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *BitcoinProvider) Name() string        { return "bitcoin" }
func (p *BitcoinProvider) DisplayName() string { return "Bitcoin OP_RETURN" }
func (p *BitcoinProvider) Type() ProviderType  { return TypeBlockchain }
func (p *BitcoinProvider) Regions() []string   { return []string{"GLOBAL"} }
func (p *BitcoinProvider) LegalStanding() LegalStanding {
	return StandingEvidentiary
}

// buildOpReturnPayload packs the 2-byte tag and the 32-byte hash, well
// within MaxOpReturnSize.
func buildOpReturnPayload(hash [32]byte) []byte {
	payload := make([]byte, 0, len(opReturnWitnessdPrefix)+32)
	payload = append(payload, opReturnWitnessdPrefix...)
	payload = append(payload, hash[:]...)
	return payload
}

func (p *BitcoinProvider) Timestamp(ctx context.Context, hash [32]byte) (*Proof, error) {
	if p.privateKeyWIF == "" {
		return nil, fmt.Errorf("bitcoin: %w: no wallet configured", ErrPaymentRequired)
	}

	payload := buildOpReturnPayload(hash)
	if len(payload) > MaxOpReturnSize {
		return nil, fmt.Errorf("bitcoin: payload %d bytes exceeds OP_RETURN limit", len(payload))
	}

	// Broadcasting a real transaction requires UTXO selection and signing
	// that is out of scope here; submission records the intended payload
	// and the caller supplies the broadcast transaction id via Configure
	// or a later Upgrade call once the daemon's wallet path is wired.
	return &Proof{
		Provider:  p.Name(),
		Version:   1,
		Hash:      hash,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
		RawProof:  payload,
		Metadata:  map[string]any{"op_return": hex.EncodeToString(payload)},
	}, nil
}

type esploraTx struct {
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}

func (p *BitcoinProvider) fetchTx(ctx context.Context, txid string) (*esploraTx, error) {
	url := fmt.Sprintf("%s/tx/%s", p.apiBase, txid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitcoin: esplora returned %d", resp.StatusCode)
	}

	var tx esploraTx
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("bitcoin: decode tx: %w", err)
	}
	return &tx, nil
}

func (p *BitcoinProvider) currentHeight(ctx context.Context) (uint64, error) {
	url := fmt.Sprintf("%s/blocks/tip/height", p.apiBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bitcoin: %w", err)
	}
	defer resp.Body.Close()
	var height uint64
	if err := json.NewDecoder(resp.Body).Decode(&height); err != nil {
		return 0, fmt.Errorf("bitcoin: decode tip height: %w", err)
	}
	return height, nil
}

func (p *BitcoinProvider) Upgrade(ctx context.Context, proof *Proof) (*Proof, error) {
	txid, _ := proof.Metadata["txid"].(string)
	if txid == "" {
		return proof, ErrProofPending
	}

	tx, err := p.fetchTx(ctx, txid)
	if err != nil {
		return proof, err
	}
	if !tx.Status.Confirmed {
		return proof, ErrProofPending
	}

	tip, err := p.currentHeight(ctx)
	if err == nil && tip >= tx.Status.BlockHeight {
		confirmations := int(tip-tx.Status.BlockHeight) + 1
		if confirmations < p.minConfirmations {
			return proof, ErrProofPending
		}
	}

	updated := *proof
	updated.Status = StatusConfirmed
	updated.BlockchainAnchor = &BlockchainAnchor{
		Chain:         "bitcoin",
		BlockHeight:   tx.Status.BlockHeight,
		BlockHash:     tx.Status.BlockHash,
		BlockTime:     time.Unix(tx.Status.BlockTime, 0).UTC(),
		TransactionID: txid,
	}
	return &updated, nil
}

func (p *BitcoinProvider) Verify(ctx context.Context, proof *Proof) (*VerifyResult, error) {
	if proof.BlockchainAnchor == nil || proof.BlockchainAnchor.Chain != "bitcoin" {
		return &VerifyResult{Provider: p.Name(), Status: proof.Status, Error: "missing blockchain anchor"}, nil
	}

	tx, err := p.fetchTx(ctx, proof.BlockchainAnchor.TransactionID)
	if err != nil {
		return nil, err
	}

	valid := tx.Status.Confirmed && tx.Status.BlockHash == proof.BlockchainAnchor.BlockHash

	return &VerifyResult{
		Valid:        valid,
		Timestamp:    time.Unix(tx.Status.BlockTime, 0).UTC(),
		VerifiedHash: proof.Hash,
		Provider:     p.Name(),
		Status:       proof.Status,
		Chain:        proof.BlockchainAnchor,
	}, nil
}

func (p *BitcoinProvider) RequiresPayment() bool     { return true }
func (p *BitcoinProvider) RequiresNetwork() bool     { return true }
func (p *BitcoinProvider) RequiresCredentials() bool { return true }

func (p *BitcoinProvider) Configure(config map[string]interface{}) error {
	if v, ok := config["api_base"].(string); ok {
		p.apiBase = v
	}
	if v, ok := config["wallet_private_key_wif"].(string); ok {
		p.privateKeyWIF = v
	}
	if v, ok := config["min_confirmations"].(int); ok {
		p.minConfirmations = v
	}
	return nil
}

func (p *BitcoinProvider) Status(ctx context.Context) (*ProviderStatus, error) {
	_, err := p.currentHeight(ctx)
	if err != nil {
		return &ProviderStatus{Available: false, Configured: p.privateKeyWIF != "", LastCheck: time.Now(), Message: err.Error()}, nil
	}
	return &ProviderStatus{Available: true, Configured: p.privateKeyWIF != "", LastCheck: time.Now()}, nil
}
