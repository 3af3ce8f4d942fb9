// Package chain is the read-only facade over the game chain's RPC endpoint:
// single eth_call reads, batched multicall reads, receipt polling, and the
// raw log subscription surface consumed by the event aggregator.
package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Client wraps an EVM RPC connection behind the narrow read surface the bot
// needs. It never signs or sends transactions; writes go through the
// meta-transaction forwarder.
type Client struct {
	cfg     Config
	eth     ethClient
	chainID *big.Int
	log     zerolog.Logger
}

// Dial connects to the configured RPC endpoint, applying HTTP basic auth when
// credentials are set, and resolves the chain id.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc_endpoint must be provided")
	}

	var opts []rpc.ClientOption
	if cfg.RPCUser != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(cfg.RPCUser + ":" + cfg.RPCPassword))
		opts = append(opts, rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", "Basic "+cred)
			return nil
		}))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCEndpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	gethClient := ethclient.NewClient(rpcClient)

	rpcChainID, err := gethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = rpcChainID.Uint64()
		log.Info().Uint64("chain_id", cfg.ChainID).Msg("Auto-detected chain ID")
	} else if cfg.ChainID != rpcChainID.Uint64() {
		log.Warn().
			Uint64("config_chain_id", cfg.ChainID).
			Stringer("rpc_chain_id", rpcChainID).
			Msg("Configured chain ID differs from RPC endpoint; using configured value")
	}

	return &Client{
		cfg:     cfg,
		eth:     gethClient,
		chainID: new(big.Int).SetUint64(cfg.ChainID),
		log:     log.With().Str("component", "chain-client").Logger(),
	}, nil
}

// NewClient wraps an existing eth client, for tests and embedding.
func NewClient(cfg Config, eth ethClient, chainID *big.Int, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		eth:     eth,
		chainID: chainID,
		log:     log.With().Str("component", "chain-client").Logger(),
	}
}

// ChainID returns the resolved chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Call performs a read-only eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// SubscribeFilterLogs opens a live log subscription; used by the aggregator.
func (c *Client) SubscribeFilterLogs(
	ctx context.Context,
	q ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

// FilterLogs performs a one-shot historical log query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

// ErrTxFailed is returned by WaitMined when the receipt reports a revert.
var ErrTxFailed = fmt.Errorf("transaction reverted")

// WaitMined polls for a transaction receipt until it appears, the context is
// cancelled, or the configured attempt limit runs out. A receipt with failed
// status returns both the receipt and ErrTxFailed so callers can inspect it.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	attempts := c.cfg.ReceiptPollAttempts
	if attempts <= 0 {
		attempts = 30
	}
	interval := c.cfg.ReceiptPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for i := 0; i < attempts; i++ {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				c.log.Warn().
					Str("tx_hash", txHash.Hex()).
					Uint64("block_number", receipt.BlockNumber.Uint64()).
					Msg("Transaction reverted")
				return receipt, ErrTxFailed
			}
			return receipt, nil
		case err == ethereum.NotFound || strings.Contains(strings.ToLower(err.Error()), "not found"):
			// Still pending.
		default:
			return nil, fmt.Errorf("get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("transaction %s not mined after %d attempts", txHash.Hex(), attempts)
}
