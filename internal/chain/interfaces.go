package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ethClient defines the subset of go-ethereum's client methods we rely on.
// It allows mocking in tests and decouples from the concrete ethclient.Client.
type ethClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ContractCaller is the narrow read surface consumed by components that only
// need eth_call, such as the meta-transaction forwarder's nonce fetch.
type ContractCaller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}
