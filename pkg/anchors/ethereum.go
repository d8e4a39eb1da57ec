// Ethereum provider implementation.
//
// Anchors a hash as the data payload of a zero-value transaction to a
// public JSON-RPC endpoint (Infura/Alchemy-compatible) and polls for the
// transaction receipt. Submission requires a funded account; Verify only
// needs the transaction hash.

package anchors

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EthereumConfig configures an EthereumProvider.
type EthereumConfig struct {
	// RPCEndpoint is a full JSON-RPC URL, e.g.
	// "https://mainnet.infura.io/v3/<project-id>".
	RPCEndpoint      string
	WalletPrivateKey string
	MinConfirmations int
}

// EthereumProvider implements Provider by anchoring to Ethereum via a
// transaction's input data.
type EthereumProvider struct {
	rpcEndpoint      string
	privateKey       string
	minConfirmations int
	httpClient       *http.Client
}

// NewEthereumProvider creates an Ethereum anchor provider.
func NewEthereumProvider(cfg EthereumConfig) *EthereumProvider {
	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = 12
	}
	return &EthereumProvider{
		rpcEndpoint:      cfg.RPCEndpoint,
		privateKey:       cfg.WalletPrivateKey,
		minConfirmations: minConf,
		httpClient:       &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *EthereumProvider) Name() string        { return "ethereum" }
func (p *EthereumProvider) DisplayName() string { return "Ethereum Transaction Data" }
func (p *EthereumProvider) Type() ProviderType  { return TypeBlockchain }
func (p *EthereumProvider) Regions() []string   { return []string{"GLOBAL"} }
func (p *EthereumProvider) LegalStanding() LegalStanding {
	return StandingEvidentiary
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *EthereumProvider) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if p.rpcEndpoint == "" {
		return nil, ErrProviderDisabled
	}

	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ethereum: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("ethereum: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("ethereum: rpc error: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (p *EthereumProvider) Timestamp(ctx context.Context, hash [32]byte) (*Proof, error) {
	if p.privateKey == "" {
		return nil, fmt.Errorf("ethereum: %w: no wallet configured", ErrPaymentRequired)
	}

	// Signing and broadcasting a raw transaction requires nonce/gas
	// management that belongs to the daemon's wallet component; this
	// provider records the intended calldata and status is advanced once
	// the caller supplies the broadcast transaction hash.
	data := "0x" + hex.EncodeToString(hash[:])

	return &Proof{
		Provider:  p.Name(),
		Version:   1,
		Hash:      hash,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
		RawProof:  []byte(data),
		Metadata:  map[string]any{"calldata": data},
	}, nil
}

type ethReceipt struct {
	BlockNumber string `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Status      string `json:"status"`
}

func (p *EthereumProvider) receipt(ctx context.Context, txHash string) (*ethReceipt, error) {
	raw, err := p.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var r ethReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("ethereum: decode receipt: %w", err)
	}
	return &r, nil
}

func (p *EthereumProvider) blockNumber(ctx context.Context) (uint64, error) {
	raw, err := p.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var hexNum string
	if err := json.Unmarshal(raw, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint(hexNum)
}

func parseHexUint(s string) (uint64, error) {
	s = trimHexPrefix(s)
	var out uint64
	if _, err := fmt.Sscanf(s, "%x", &out); err != nil {
		return 0, fmt.Errorf("ethereum: parse hex %q: %w", s, err)
	}
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (p *EthereumProvider) Upgrade(ctx context.Context, proof *Proof) (*Proof, error) {
	txHash, _ := proof.Metadata["tx_hash"].(string)
	if txHash == "" {
		return proof, ErrProofPending
	}

	r, err := p.receipt(ctx, txHash)
	if err != nil {
		return proof, err
	}
	if r == nil || r.Status != "0x1" {
		return proof, ErrProofPending
	}

	blockNum, err := parseHexUint(r.BlockNumber)
	if err != nil {
		return proof, err
	}

	tip, err := p.blockNumber(ctx)
	if err == nil && tip >= blockNum {
		confirmations := int(tip-blockNum) + 1
		if confirmations < p.minConfirmations {
			return proof, ErrProofPending
		}
	}

	updated := *proof
	updated.Status = StatusConfirmed
	updated.BlockchainAnchor = &BlockchainAnchor{
		Chain:         "ethereum",
		BlockHeight:   blockNum,
		BlockHash:     r.BlockHash,
		TransactionID: txHash,
	}
	return &updated, nil
}

func (p *EthereumProvider) Verify(ctx context.Context, proof *Proof) (*VerifyResult, error) {
	if proof.BlockchainAnchor == nil || proof.BlockchainAnchor.Chain != "ethereum" {
		return &VerifyResult{Provider: p.Name(), Status: proof.Status, Error: "missing blockchain anchor"}, nil
	}

	r, err := p.receipt(ctx, proof.BlockchainAnchor.TransactionID)
	if err != nil {
		return nil, err
	}
	valid := r != nil && r.Status == "0x1" && r.BlockHash == proof.BlockchainAnchor.BlockHash

	return &VerifyResult{
		Valid:        valid,
		Timestamp:    proof.Timestamp,
		VerifiedHash: proof.Hash,
		Provider:     p.Name(),
		Status:       proof.Status,
		Chain:        proof.BlockchainAnchor,
	}, nil
}

func (p *EthereumProvider) RequiresPayment() bool     { return true }
func (p *EthereumProvider) RequiresNetwork() bool     { return true }
func (p *EthereumProvider) RequiresCredentials() bool { return true }

func (p *EthereumProvider) Configure(config map[string]interface{}) error {
	if v, ok := config["rpc_endpoint"].(string); ok {
		p.rpcEndpoint = v
	}
	if v, ok := config["wallet_private_key"].(string); ok {
		p.privateKey = v
	}
	if v, ok := config["min_confirmations"].(int); ok {
		p.minConfirmations = v
	}
	return nil
}

func (p *EthereumProvider) Status(ctx context.Context) (*ProviderStatus, error) {
	_, err := p.blockNumber(ctx)
	if err != nil {
		return &ProviderStatus{Available: false, Configured: p.privateKey != "", LastCheck: time.Now(), Message: err.Error()}, nil
	}
	return &ProviderStatus{Available: true, Configured: p.privateKey != "", LastCheck: time.Now()}, nil
}
