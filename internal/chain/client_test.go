package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
)

type mockEth struct {
	mu        sync.Mutex
	receiptFn func(attempt int) (*types.Receipt, error)
	callFn    func(msg ethereum.CallMsg) ([]byte, error)
	attempts  int
}

func (m *mockEth) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (m *mockEth) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return m.callFn(msg)
}

func (m *mockEth) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()
	return m.receiptFn(attempt)
}

func (m *mockEth) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errors.New("not implemented")
}

func (m *mockEth) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not implemented")
}

func newTestClient(eth ethClient) *Client {
	cfg := DefaultConfig()
	cfg.ReceiptPollInterval = time.Millisecond
	cfg.ReceiptPollAttempts = 5
	return NewClient(cfg, eth, big.NewInt(1), zerolog.Nop())
}

func TestWaitMined_PendingThenMined(t *testing.T) {
	mined := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}
	eth := &mockEth{receiptFn: func(attempt int) (*types.Receipt, error) {
		if attempt < 3 {
			return nil, ethereum.NotFound
		}
		return mined, nil
	}}

	receipt, err := newTestClient(eth).WaitMined(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, mined, receipt)
	require.Equal(t, 3, eth.attempts)
}

func TestWaitMined_RevertReturnsReceiptAndError(t *testing.T) {
	reverted := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(42)}
	eth := &mockEth{receiptFn: func(int) (*types.Receipt, error) {
		return reverted, nil
	}}

	receipt, err := newTestClient(eth).WaitMined(context.Background(), common.HexToHash("0x01"))
	require.ErrorIs(t, err, ErrTxFailed)
	require.Equal(t, reverted, receipt)
}

func TestWaitMined_AttemptsExhausted(t *testing.T) {
	eth := &mockEth{receiptFn: func(int) (*types.Receipt, error) {
		return nil, ethereum.NotFound
	}}

	_, err := newTestClient(eth).WaitMined(context.Background(), common.HexToHash("0x01"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not mined")
	require.Equal(t, 5, eth.attempts)
}

func TestWaitMined_HardRPCErrorSurfaces(t *testing.T) {
	eth := &mockEth{receiptFn: func(int) (*types.Receipt, error) {
		return nil, errors.New("connection refused")
	}}

	_, err := newTestClient(eth).WaitMined(context.Background(), common.HexToHash("0x01"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, 1, eth.attempts)
}

func TestAggregate_SingleRoundTripInOrder(t *testing.T) {
	targetA := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	targetB := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	mc, err := contracts.Multicall3ABI()
	require.NoError(t, err)

	eth := &mockEth{callFn: func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, common.HexToAddress(DefaultConfig().MulticallContract), *msg.To)

		args, err := mc.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		batch := *abi.ConvertType(args[0], new([]contracts.Call3)).(*[]contracts.Call3)
		require.Len(t, batch, 2)
		require.Equal(t, targetA, batch[0].Target)
		require.Equal(t, targetB, batch[1].Target)
		require.True(t, batch[1].AllowFailure)

		return mc.Methods["aggregate3"].Outputs.Pack([]contracts.Call3Result{
			{Success: true, ReturnData: []byte{0x01}},
			{Success: false, ReturnData: nil},
		})
	}}

	results, err := newTestClient(eth).Aggregate(context.Background(), []ReadCall{
		{Target: targetA, Data: []byte{0xde, 0xad}},
		{Target: targetB, Data: []byte{0xbe, 0xef}, AllowFailure: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.Equal(t, []byte{0x01}, results[0].ReturnData)
	require.False(t, results[1].Success)
}

func TestAggregate_EmptyBatchSkipsRPC(t *testing.T) {
	eth := &mockEth{callFn: func(ethereum.CallMsg) ([]byte, error) {
		t.Fatal("unexpected RPC call")
		return nil, nil
	}}

	results, err := newTestClient(eth).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestAggregate_ResultCountMismatchFails(t *testing.T) {
	mc, err := contracts.Multicall3ABI()
	require.NoError(t, err)

	eth := &mockEth{callFn: func(ethereum.CallMsg) ([]byte, error) {
		return mc.Methods["aggregate3"].Outputs.Pack([]contracts.Call3Result{
			{Success: true},
		})
	}}

	_, err = newTestClient(eth).Aggregate(context.Background(), []ReadCall{
		{Target: common.HexToAddress("0x1"), Data: []byte{0x00}},
		{Target: common.HexToAddress("0x2"), Data: []byte{0x00}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "multicall returned 1 results for 2 calls")
}
