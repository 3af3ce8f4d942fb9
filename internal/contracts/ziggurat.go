package contracts

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/ziggurat.json
var zigguratABIJSON string

// Ziggurat party lifecycle states as reported by partyState(partyId).
const (
	PartyStateForming uint8 = 0
	PartyStateRunning uint8 = 1
	PartyStateEnded   uint8 = 2
)

// Ziggurat binds the dungeon contract whose parties the bot shepherds.
type Ziggurat struct {
	address common.Address
	abi     abi.ABI
}

func NewZiggurat(contractAddr string) (*Ziggurat, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return nil, fmt.Errorf("ziggurat contract address is empty")
	}
	a, err := abi.JSON(strings.NewReader(zigguratABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ziggurat ABI: %w", err)
	}
	return &Ziggurat{address: common.HexToAddress(contractAddr), abi: a}, nil
}

func (z *Ziggurat) Address() common.Address { return z.address }

func (z *Ziggurat) ABI() abi.ABI { return z.abi }

func (z *Ziggurat) Event(name string) (abi.Event, error) {
	ev, ok := z.abi.Events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("ziggurat ABI has no event %q", name)
	}
	return ev, nil
}

func (z *Ziggurat) PackPartyState(partyID *big.Int) ([]byte, error) {
	return z.abi.Pack("partyState", partyID)
}

func (z *Ziggurat) UnpackPartyState(data []byte) (uint8, error) {
	out, err := z.abi.Unpack("partyState", data)
	if err != nil {
		return 0, fmt.Errorf("unpack partyState: %w", err)
	}
	return out[0].(uint8), nil
}

func (z *Ziggurat) PackPartySize(partyID *big.Int) ([]byte, error) {
	return z.abi.Pack("partySize", partyID)
}

func (z *Ziggurat) UnpackPartySize(data []byte) (uint8, error) {
	out, err := z.abi.Unpack("partySize", data)
	if err != nil {
		return 0, fmt.Errorf("unpack partySize: %w", err)
	}
	return out[0].(uint8), nil
}

func (z *Ziggurat) PackMaxPartySize() ([]byte, error) {
	return z.abi.Pack("maxPartySize")
}

func (z *Ziggurat) UnpackMaxPartySize(data []byte) (uint8, error) {
	out, err := z.abi.Unpack("maxPartySize", data)
	if err != nil {
		return 0, fmt.Errorf("unpack maxPartySize: %w", err)
	}
	return out[0].(uint8), nil
}

func (z *Ziggurat) PackDoorCount(partyID *big.Int) ([]byte, error) {
	return z.abi.Pack("doorCount", partyID)
}

func (z *Ziggurat) UnpackDoorCount(data []byte) (uint8, error) {
	out, err := z.abi.Unpack("doorCount", data)
	if err != nil {
		return 0, fmt.Errorf("unpack doorCount: %w", err)
	}
	return out[0].(uint8), nil
}

func (z *Ziggurat) PackStartParty(partyID *big.Int) ([]byte, error) {
	return z.abi.Pack("startParty", partyID)
}

func (z *Ziggurat) PackChooseDoor(partyID *big.Int, door uint8) ([]byte, error) {
	return z.abi.Pack("chooseDoor", partyID, door)
}
