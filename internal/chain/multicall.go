package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
)

// ReadCall is one read in a multicall batch.
type ReadCall struct {
	Target common.Address
	Data   []byte
	// AllowFailure marks reads whose revert should not fail the whole batch,
	// e.g. probing an entity the index already knows about but the chain may
	// have pruned.
	AllowFailure bool
}

// ReadResult is the per-call outcome of a multicall batch.
type ReadResult struct {
	Success    bool
	ReturnData []byte
}

// Aggregate performs all reads in a single RPC round-trip through the
// Multicall3 contract and returns per-call results in input order.
func (c *Client) Aggregate(ctx context.Context, calls []ReadCall) ([]ReadResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	batch := make([]contracts.Call3, len(calls))
	for i, call := range calls {
		batch[i] = contracts.Call3{
			Target:       call.Target,
			AllowFailure: call.AllowFailure,
			CallData:     call.Data,
		}
	}

	data, err := contracts.PackAggregate3(batch)
	if err != nil {
		return nil, err
	}

	out, err := c.Call(ctx, common.HexToAddress(c.cfg.MulticallContract), data)
	if err != nil {
		return nil, fmt.Errorf("multicall aggregate3: %w", err)
	}

	decoded, err := contracts.UnpackAggregate3(out)
	if err != nil {
		return nil, err
	}
	if len(decoded) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(decoded), len(calls))
	}

	results := make([]ReadResult, len(decoded))
	for i, r := range decoded {
		results[i] = ReadResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}
