package contracts

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/forwarder.json
var forwarderABIJSON string

// Forwarder binds the trusted forwarding contract that verifies relayed
// meta-transaction signatures and tracks per-sender replay nonces.
type Forwarder struct {
	address common.Address
	abi     abi.ABI
}

func NewForwarder(contractAddr string) (*Forwarder, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return nil, fmt.Errorf("forwarder contract address is empty")
	}
	a, err := abi.JSON(strings.NewReader(forwarderABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse forwarder ABI: %w", err)
	}
	return &Forwarder{address: common.HexToAddress(contractAddr), abi: a}, nil
}

func (f *Forwarder) Address() common.Address { return f.address }

func (f *Forwarder) ABI() abi.ABI { return f.abi }

func (f *Forwarder) PackGetNonce(from common.Address) ([]byte, error) {
	return f.abi.Pack("getNonce", from)
}

func (f *Forwarder) UnpackGetNonce(data []byte) (*big.Int, error) {
	out, err := f.abi.Unpack("getNonce", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getNonce: %w", err)
	}
	return out[0].(*big.Int), nil
}
