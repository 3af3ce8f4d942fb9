package contracts

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/multicall3.json
var multicall3ABIJSON string

var (
	multicall3Once sync.Once
	multicall3ABI  abi.ABI
	multicall3Err  error
)

// Multicall3ABI returns the parsed aggregate3 ABI. Parsing an embedded
// constant cannot fail at runtime once it has succeeded in tests, so the
// result is cached.
func Multicall3ABI() (abi.ABI, error) {
	multicall3Once.Do(func() {
		multicall3ABI, multicall3Err = abi.JSON(strings.NewReader(multicall3ABIJSON))
	})
	return multicall3ABI, multicall3Err
}

// Call3 mirrors the Multicall3.Call3 tuple.
type Call3 struct {
	Target       common.Address `abi:"target"`
	AllowFailure bool           `abi:"allowFailure"`
	CallData     []byte         `abi:"callData"`
}

// Call3Result mirrors the Multicall3.Result tuple.
type Call3Result struct {
	Success    bool   `abi:"success"`
	ReturnData []byte `abi:"returnData"`
}

// PackAggregate3 encodes an aggregate3 batch.
func PackAggregate3(calls []Call3) ([]byte, error) {
	a, err := Multicall3ABI()
	if err != nil {
		return nil, err
	}
	data, err := a.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("abi pack aggregate3: %w", err)
	}
	return data, nil
}

// UnpackAggregate3 decodes the per-call results of an aggregate3 batch.
func UnpackAggregate3(data []byte) ([]Call3Result, error) {
	a, err := Multicall3ABI()
	if err != nil {
		return nil, err
	}
	out, err := a.Unpack("aggregate3", data)
	if err != nil {
		return nil, fmt.Errorf("abi unpack aggregate3: %w", err)
	}
	results := *abi.ConvertType(out[0], new([]Call3Result)).(*[]Call3Result)
	return results, nil
}
