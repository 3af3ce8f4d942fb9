// Package contracts holds the ABI bindings for the game contracts the bot
// talks to. Each binding wraps an embedded ABI definition and exposes
// calldata builders and result decoders; it never talks to the chain itself.
package contracts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/battle.json
var battleABIJSON string

// Battle game lifecycle states as reported by gameState().
const (
	GameStateWaiting  uint8 = 0
	GameStateActive   uint8 = 1
	GameStateOver     uint8 = 2
	GameStateCanceled uint8 = 3
)

// Battle binds the turn-based battle contract.
type Battle struct {
	address common.Address
	abi     abi.ABI
}

// NewBattle parses the embedded battle ABI for the given deployment address.
func NewBattle(contractAddr string) (*Battle, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return nil, fmt.Errorf("battle contract address is empty")
	}
	a, err := abi.JSON(strings.NewReader(battleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse battle ABI: %w", err)
	}
	return &Battle{address: common.HexToAddress(contractAddr), abi: a}, nil
}

func (b *Battle) Address() common.Address { return b.address }

func (b *Battle) ABI() abi.ABI { return b.abi }

// Event returns the named ABI event definition, for aggregator registration.
func (b *Battle) Event(name string) (abi.Event, error) {
	ev, ok := b.abi.Events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("battle ABI has no event %q", name)
	}
	return ev, nil
}

func (b *Battle) PackGameState() ([]byte, error) {
	return b.abi.Pack("gameState")
}

func (b *Battle) UnpackGameState(data []byte) (uint8, error) {
	out, err := b.abi.Unpack("gameState", data)
	if err != nil {
		return 0, fmt.Errorf("unpack gameState: %w", err)
	}
	return out[0].(uint8), nil
}

func (b *Battle) PackCurrentTurnTeam() ([]byte, error) {
	return b.abi.Pack("currentTurnTeam")
}

func (b *Battle) UnpackCurrentTurnTeam(data []byte) (uint8, error) {
	out, err := b.abi.Unpack("currentTurnTeam", data)
	if err != nil {
		return 0, fmt.Errorf("unpack currentTurnTeam: %w", err)
	}
	return out[0].(uint8), nil
}

func (b *Battle) PackTurnEndsAt() ([]byte, error) {
	return b.abi.Pack("turnEndsAt")
}

func (b *Battle) UnpackTurnEndsAt(data []byte) (uint64, error) {
	out, err := b.abi.Unpack("turnEndsAt", data)
	if err != nil {
		return 0, fmt.Errorf("unpack turnEndsAt: %w", err)
	}
	return out[0].(uint64), nil
}

func (b *Battle) PackTurnEnded(playerID, team uint8) ([]byte, error) {
	return b.abi.Pack("turnEnded", playerID, team)
}

func (b *Battle) UnpackTurnEnded(data []byte) (bool, error) {
	out, err := b.abi.Unpack("turnEnded", data)
	if err != nil {
		return false, fmt.Errorf("unpack turnEnded: %w", err)
	}
	return out[0].(bool), nil
}

func (b *Battle) PackGetEnergy(playerID, team uint8) ([]byte, error) {
	return b.abi.Pack("getEnergy", playerID, team)
}

func (b *Battle) UnpackGetEnergy(data []byte) (uint8, error) {
	out, err := b.abi.Unpack("getEnergy", data)
	if err != nil {
		return 0, fmt.Errorf("unpack getEnergy: %w", err)
	}
	return out[0].(uint8), nil
}

func (b *Battle) PackGetHand(playerID, team uint8) ([]byte, error) {
	return b.abi.Pack("getHand", playerID, team)
}

func (b *Battle) UnpackGetHand(data []byte) ([]uint16, error) {
	out, err := b.abi.Unpack("getHand", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getHand: %w", err)
	}
	return out[0].([]uint16), nil
}

func (b *Battle) PackGetCardCost(cardID uint16) ([]byte, error) {
	return b.abi.Pack("getCardCost", cardID)
}

func (b *Battle) UnpackGetCardCost(data []byte) (uint8, error) {
	out, err := b.abi.Unpack("getCardCost", data)
	if err != nil {
		return 0, fmt.Errorf("unpack getCardCost: %w", err)
	}
	return out[0].(uint8), nil
}

func (b *Battle) PackGetStats(playerID, team uint8) ([]byte, error) {
	return b.abi.Pack("getStats", playerID, team)
}

func (b *Battle) UnpackGetStats(data []byte) ([]byte, error) {
	out, err := b.abi.Unpack("getStats", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getStats: %w", err)
	}
	return out[0].([]byte), nil
}

func (b *Battle) PackPlayCard(playerID uint8, cardID uint16, target uint8) ([]byte, error) {
	return b.abi.Pack("playCard", playerID, cardID, target)
}

func (b *Battle) PackEndTurn(playerID uint8) ([]byte, error) {
	return b.abi.Pack("endTurn", playerID)
}
