// Package forwarder submits gas-sponsored meta-transactions: it fetches the
// sender's replay nonce from the forwarding contract, signs an EIP-712
// ForwardRequest, and POSTs the decomposed request to the relay endpoint.
package forwarder

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
)

// ErrMissingTxHash marks a 2xx relay response that carried no transaction
// hash. Distinct from RelayStatusError so callers can tell protocol
// violations apart from plain HTTP failures.
var ErrMissingTxHash = errors.New("relay response missing transaction hash")

// RelayStatusError is returned when the relay answers with a non-2xx status.
type RelayStatusError struct {
	StatusCode int
	Body       string
}

func (e *RelayStatusError) Error() string {
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Body)
}

// Intent is the ephemeral description of one desired contract call. It is
// never persisted; an interrupted submission is re-derived from fresh chain
// state on the next wake, not replayed.
type Intent struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// Gas defaults to the configured ceiling when zero.
	Gas uint64
	// Deadline defaults to now plus the configured window when zero.
	Deadline time.Time
}

// Forwarder converts intents into relayed transactions. It is stateless apart
// from the per-signer critical section around nonce fetch and signing, and is
// safe for concurrent use by any number of actors.
type Forwarder struct {
	cfg     Config
	caller  chain.ContractCaller
	binding *contracts.Forwarder
	signer  Signer
	chainID *big.Int
	httpc   *http.Client
	met     *metrics.ForwarderMetrics
	log     zerolog.Logger

	// Serializes nonce fetch-then-sign-then-submit for this signing identity.
	// Concurrent submissions from the same sender would otherwise race the
	// forwarding contract's nonce and one would be rejected as a replay.
	mu sync.Mutex
}

// New builds a Forwarder. met may be nil to disable metrics.
func New(
	cfg Config,
	caller chain.ContractCaller,
	chainID *big.Int,
	met *metrics.ForwarderMetrics,
	log zerolog.Logger,
) (*Forwarder, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay_url must be provided")
	}
	binding, err := contracts.NewForwarder(cfg.ForwarderContract)
	if err != nil {
		return nil, err
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private_key_hex must be provided")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Forwarder{
		cfg:     cfg,
		caller:  caller,
		binding: binding,
		signer:  NewLocalECDSASigner(key),
		chainID: chainID,
		httpc:   &http.Client{Timeout: cfg.HTTPTimeout},
		met:     met,
		log:     log.With().Str("component", "forwarder").Logger(),
	}, nil
}

// NewWithSigner builds a Forwarder around an externally held signer.
func NewWithSigner(
	cfg Config,
	caller chain.ContractCaller,
	signer Signer,
	chainID *big.Int,
	met *metrics.ForwarderMetrics,
	log zerolog.Logger,
) (*Forwarder, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay_url must be provided")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer must be provided")
	}
	binding, err := contracts.NewForwarder(cfg.ForwarderContract)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		cfg:     cfg,
		caller:  caller,
		binding: binding,
		signer:  signer,
		chainID: chainID,
		httpc:   &http.Client{Timeout: cfg.HTTPTimeout},
		met:     met,
		log:     log.With().Str("component", "forwarder").Logger(),
	}, nil
}

// From returns the signing identity's address.
func (f *Forwarder) From() common.Address { return f.signer.From() }

type relayRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Gas       string `json:"gas"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

type relayResponse struct {
	TransactionHash string `json:"transactionHash"`
	Error           string `json:"error"`
}

// Forward signs the intent as an EIP-712 ForwardRequest and submits it to the
// relay. It returns the relayed transaction hash; it does not wait for the
// transaction to be mined.
func (f *Forwarder) Forward(ctx context.Context, intent Intent) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gas := intent.Gas
	if gas == 0 {
		gas = f.cfg.DefaultGas
	}
	deadline := intent.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(f.cfg.DefaultDeadline)
	}
	value := intent.Value
	if value == nil {
		value = big.NewInt(0)
	}

	from := f.signer.From()

	nonce, err := f.fetchNonce(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch forwarder nonce: %w", err)
	}

	typed := f.typedRequest(from, intent.To, value, gas, nonce, deadline, intent.Data)
	sig, err := f.signer.SignTypedData(ctx, typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign forward request: %w", err)
	}

	req := relayRequest{
		From:      from.Hex(),
		To:        intent.To.Hex(),
		Value:     value.String(),
		Gas:       new(big.Int).SetUint64(gas).String(),
		Nonce:     nonce.String(),
		Deadline:  fmt.Sprintf("%d", deadline.Unix()),
		Data:      hexutil.Encode(intent.Data),
		Signature: hexutil.Encode(sig),
	}

	hash, err := f.submit(ctx, req)
	if err != nil {
		if f.met != nil {
			f.met.Submissions.WithLabelValues("error").Inc()
		}
		return common.Hash{}, err
	}
	if f.met != nil {
		f.met.Submissions.WithLabelValues("ok").Inc()
	}
	return hash, nil
}

func (f *Forwarder) fetchNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	data, err := f.binding.PackGetNonce(from)
	if err != nil {
		return nil, err
	}
	out, err := f.caller.Call(ctx, f.binding.Address(), data)
	if err != nil {
		return nil, err
	}
	return f.binding.UnpackGetNonce(out)
}

func (f *Forwarder) typedRequest(
	from, to common.Address,
	value *big.Int,
	gas uint64,
	nonce *big.Int,
	deadline time.Time,
	data []byte,
) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"ForwardRequest": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "gas", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint48"},
				{Name: "data", Type: "bytes"},
			},
		},
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              f.cfg.DomainName,
			Version:           f.cfg.DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(f.chainID),
			VerifyingContract: f.binding.Address().Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":     from.Hex(),
			"to":       to.Hex(),
			"value":    (*math.HexOrDecimal256)(value),
			"gas":      (*math.HexOrDecimal256)(new(big.Int).SetUint64(gas)),
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(big.NewInt(deadline.Unix())),
			"data":     hexutil.Encode(data),
		},
	}
}

func (f *Forwarder) submit(ctx context.Context, req relayRequest) (common.Hash, error) {
	requestID := newRequestID()
	started := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.RelayURL, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, fmt.Errorf("build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpc.Do(httpReq)
	if err != nil {
		return common.Hash{}, fmt.Errorf("post relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.Hash{}, fmt.Errorf("read relay response: %w", err)
	}

	if f.met != nil {
		f.met.RelayLag.Observe(time.Since(started).Seconds())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warn().
			Str("request_id", requestID).
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Msg("Relay rejected submission")
		return common.Hash{}, &RelayStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed relayResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return common.Hash{}, fmt.Errorf("parse relay response: %w", err)
	}
	if parsed.Error != "" {
		return common.Hash{}, fmt.Errorf("relay error: %s", parsed.Error)
	}
	if parsed.TransactionHash == "" {
		return common.Hash{}, ErrMissingTxHash
	}

	hash := common.HexToHash(parsed.TransactionHash)
	f.log.Info().
		Str("request_id", requestID).
		Str("tx_hash", hash.Hex()).
		Str("to", req.To).
		Str("nonce", req.Nonce).
		Dur("roundtrip", time.Since(started)).
		Msg("Relay accepted submission")
	return hash, nil
}

func newRequestID() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.New().String()
}
