// Package battle implements the reconciliation policy for one controlled
// character in a turn-based battle: wait for the controlled side's turn, play
// the first affordable cards while energy lasts, then end the turn.
package battle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/indexer"
)

// Start parameter fields. gameAddress, playerId and team are the entity's
// immutable identity; their presence in the state store marks the actor
// active.
const (
	ParamGameAddress = "gameAddress"
	ParamPlayerID    = "playerId"
	ParamTeam        = "team"
)

// Config holds battle policy tuning.
type Config struct {
	// WaitingDelay is the wake interval while it is not our turn and the
	// contract exposes no better deadline.
	WaitingDelay time.Duration `yaml:"waiting_delay" env:"BATTLE_WAITING_DELAY"`

	// MaxActionsPerTurn caps the action loop so a miscosted fallback can
	// never spin the actor.
	MaxActionsPerTurn int `yaml:"max_actions_per_turn" env:"BATTLE_MAX_ACTIONS_PER_TURN"`

	// Target is the enemy slot actions are aimed at.
	Target uint8 `yaml:"target" env:"BATTLE_TARGET"`
}

func DefaultConfig() Config {
	return Config{
		WaitingDelay:      15 * time.Second,
		MaxActionsPerTurn: 16,
	}
}

// ChainReader is the batched read surface the policy needs.
type ChainReader interface {
	Aggregate(ctx context.Context, calls []chain.ReadCall) ([]chain.ReadResult, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Index is the cheap lookup surface over the read index.
type Index interface {
	BattleByAddress(ctx context.Context, address string) (*indexer.Battle, error)
}

// Submitter relays one meta-transaction.
type Submitter interface {
	Forward(ctx context.Context, intent forwarder.Intent) (common.Hash, error)
}

// Policy reconciles one character-in-battle entity per periodic check.
type Policy struct {
	cfg    Config
	reader ChainReader
	index  Index
	fwd    Submitter
	log    zerolog.Logger
}

func New(cfg Config, reader ChainReader, index Index, fwd Submitter, log zerolog.Logger) *Policy {
	if cfg.MaxActionsPerTurn <= 0 {
		cfg.MaxActionsPerTurn = 16
	}
	if cfg.WaitingDelay <= 0 {
		cfg.WaitingDelay = 15 * time.Second
	}
	return &Policy{
		cfg:    cfg,
		reader: reader,
		index:  index,
		fwd:    fwd,
		log:    log.With().Str("component", "battle-policy").Logger(),
	}
}

func (p *Policy) Namespace() string { return "battle" }

func (p *Policy) ValidateParams(params map[string]string) error {
	if params[ParamGameAddress] == "" {
		return fmt.Errorf("%s is required", ParamGameAddress)
	}
	if !common.IsHexAddress(params[ParamGameAddress]) {
		return fmt.Errorf("%s is not a valid address", ParamGameAddress)
	}
	for _, field := range []string{ParamPlayerID, ParamTeam} {
		if _, err := strconv.ParseUint(params[field], 10, 8); err != nil {
			return fmt.Errorf("%s must be a uint8: %w", field, err)
		}
	}
	return nil
}

func (p *Policy) EventSubscriptions(params map[string]string) []events.EventQuery {
	binding, err := contracts.NewBattle(params[ParamGameAddress])
	if err != nil {
		return nil
	}
	var queries []events.EventQuery
	for _, name := range []string{"GameStarted", "TurnStarted", "TurnEnded", "GameOver"} {
		ev, err := binding.Event(name)
		if err != nil {
			continue
		}
		queries = append(queries, events.EventQuery{
			Name:    name,
			Address: binding.Address(),
			Event:   ev,
		})
	}
	return queries
}

// PerformPeriodicCheck reads the battle's phase (index first, chain reads as
// fallback and confirmation), acts when it is the controlled side's turn, and
// returns when to check next. Zero time means the game concluded.
func (p *Policy) PerformPeriodicCheck(ctx context.Context, params map[string]string) (time.Time, error) {
	gameAddr := params[ParamGameAddress]
	playerID64, _ := strconv.ParseUint(params[ParamPlayerID], 10, 8)
	team64, _ := strconv.ParseUint(params[ParamTeam], 10, 8)
	playerID, team := uint8(playerID64), uint8(team64)

	binding, err := contracts.NewBattle(gameAddr)
	if err != nil {
		return time.Time{}, err
	}
	log := p.log.With().Str("game", gameAddr).Uint8("player", playerID).Uint8("team", team).Logger()

	gate, err := p.readGate(ctx, binding, gameAddr)
	if err != nil {
		return time.Time{}, err
	}

	switch {
	case gate.state == contracts.GameStateOver || gate.state == contracts.GameStateCanceled:
		log.Info().Uint8("state", gate.state).Msg("Game concluded, terminating")
		return time.Time{}, nil
	case gate.state == contracts.GameStateWaiting:
		log.Debug().Msg("Game not started yet")
		return time.Now().Add(p.cfg.WaitingDelay), nil
	case gate.team != team:
		// Not our turn: sleep until the opponent's turn deadline when known.
		return p.nextWakeAfter(gate.endsAt), nil
	}

	if err := p.runTurn(ctx, binding, playerID, team, log); err != nil {
		return time.Time{}, err
	}
	return p.nextWakeAfter(gate.endsAt), nil
}

// nextWakeAfter picks the turn deadline when it is still in the future, else
// the waiting delay.
func (p *Policy) nextWakeAfter(turnEndsAt uint64) time.Time {
	if turnEndsAt > 0 {
		at := time.Unix(int64(turnEndsAt), 0)
		if at.After(time.Now()) {
			return at
		}
	}
	return time.Now().Add(p.cfg.WaitingDelay)
}

type gateState struct {
	state  uint8
	team   uint8
	endsAt uint64
}

// readGate resolves the battle's phase. The index is the cheap path; when it
// is missing the battle, or claims it is our turn, the chain is read to
// confirm so a lagging index can neither stall nor double-act the policy.
func (p *Policy) readGate(ctx context.Context, b *contracts.Battle, gameAddr string) (gateState, error) {
	if p.index != nil {
		row, err := p.index.BattleByAddress(ctx, gameAddr)
		if err != nil {
			p.log.Debug().Err(err).Msg("Index lookup failed, falling back to chain")
		} else if row != nil && row.GameState != contracts.GameStateActive {
			return gateState{state: row.GameState, team: row.CurrentTeam, endsAt: uint64(row.TurnEndsAt)}, nil
		}
	}
	return p.readGateFromChain(ctx, b)
}

func (p *Policy) readGateFromChain(ctx context.Context, b *contracts.Battle) (gateState, error) {
	stateData, err := b.PackGameState()
	if err != nil {
		return gateState{}, err
	}
	teamData, err := b.PackCurrentTurnTeam()
	if err != nil {
		return gateState{}, err
	}
	endsData, err := b.PackTurnEndsAt()
	if err != nil {
		return gateState{}, err
	}

	results, err := p.reader.Aggregate(ctx, []chain.ReadCall{
		{Target: b.Address(), Data: stateData},
		{Target: b.Address(), Data: teamData},
		{Target: b.Address(), Data: endsData},
	})
	if err != nil {
		return gateState{}, fmt.Errorf("read battle gate: %w", err)
	}

	var gate gateState
	if gate.state, err = b.UnpackGameState(results[0].ReturnData); err != nil {
		return gateState{}, err
	}
	if gate.team, err = b.UnpackCurrentTurnTeam(results[1].ReturnData); err != nil {
		return gateState{}, err
	}
	if gate.endsAt, err = b.UnpackTurnEndsAt(results[2].ReturnData); err != nil {
		return gateState{}, err
	}
	return gate, nil
}

type turnState struct {
	energy uint8
	hand   []uint16
	ended  bool
	stats  contracts.Stats
}

func (p *Policy) readTurn(ctx context.Context, b *contracts.Battle, playerID, team uint8) (turnState, error) {
	energyData, err := b.PackGetEnergy(playerID, team)
	if err != nil {
		return turnState{}, err
	}
	handData, err := b.PackGetHand(playerID, team)
	if err != nil {
		return turnState{}, err
	}
	endedData, err := b.PackTurnEnded(playerID, team)
	if err != nil {
		return turnState{}, err
	}
	statsData, err := b.PackGetStats(playerID, team)
	if err != nil {
		return turnState{}, err
	}

	results, err := p.reader.Aggregate(ctx, []chain.ReadCall{
		{Target: b.Address(), Data: energyData},
		{Target: b.Address(), Data: handData},
		{Target: b.Address(), Data: endedData},
		{Target: b.Address(), Data: statsData},
	})
	if err != nil {
		return turnState{}, fmt.Errorf("read turn state: %w", err)
	}

	var ts turnState
	if ts.energy, err = b.UnpackGetEnergy(results[0].ReturnData); err != nil {
		return turnState{}, err
	}
	if ts.hand, err = b.UnpackGetHand(results[1].ReturnData); err != nil {
		return turnState{}, err
	}
	if ts.ended, err = b.UnpackTurnEnded(results[2].ReturnData); err != nil {
		return turnState{}, err
	}
	packed, err := b.UnpackGetStats(results[3].ReturnData)
	if err != nil {
		return turnState{}, err
	}
	ts.stats = contracts.DecodeStats(packed)
	return ts, nil
}

func (p *Policy) readCosts(ctx context.Context, b *contracts.Battle, hand []uint16) ([]uint8, error) {
	calls := make([]chain.ReadCall, len(hand))
	for i, card := range hand {
		data, err := b.PackGetCardCost(card)
		if err != nil {
			return nil, err
		}
		calls[i] = chain.ReadCall{Target: b.Address(), Data: data}
	}
	results, err := p.reader.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("read card costs: %w", err)
	}
	costs := make([]uint8, len(results))
	for i, r := range results {
		if costs[i], err = b.UnpackGetCardCost(r.ReturnData); err != nil {
			return nil, err
		}
	}
	return costs, nil
}

// runTurn plays cards while energy and affordable cards remain, then ends the
// turn. Every iteration re-reads state fresh: a submitted action changes the
// resource balance the next decision depends on, so a pre-action snapshot is
// never trusted. The iteration cap bounds the loop even when a misbehaving
// cost read claims everything is free.
func (p *Policy) runTurn(
	ctx context.Context,
	b *contracts.Battle,
	playerID, team uint8,
	log zerolog.Logger,
) error {
	for i := 0; i < p.cfg.MaxActionsPerTurn; i++ {
		ts, err := p.readTurn(ctx, b, playerID, team)
		if err != nil {
			return err
		}
		if ts.ended {
			log.Debug().Msg("Turn already ended")
			return nil
		}
		if ts.stats.Health == 0 {
			// Dead characters cannot play cards; fall through to end the turn.
			log.Debug().Msg("Character is dead, yielding turn")
			break
		}
		if ts.energy == 0 || len(ts.hand) == 0 {
			break
		}

		costs, err := p.readCosts(ctx, b, ts.hand)
		if err != nil {
			return err
		}

		// First affordable card, in hand order. Deterministic on purpose:
		// replaying the same state picks the same action.
		card, ok := pickCard(ts.hand, costs, ts.energy)
		if !ok {
			break
		}

		if err := p.submit(ctx, b, &log, "playCard", func() ([]byte, error) {
			return b.PackPlayCard(playerID, card, p.cfg.Target)
		}); err != nil {
			if isBenignRace(err) {
				log.Info().Err(err).Msg("Action raced with a concurrent advance, re-reading")
				continue
			}
			return err
		}
		log.Info().Uint16("card", card).Uint8("energy_before", ts.energy).Msg("Card played")
	}

	// Out of actions. End the turn explicitly unless something else already
	// did, or the game stopped being active meanwhile.
	ts, err := p.readTurn(ctx, b, playerID, team)
	if err != nil {
		return err
	}
	if ts.ended {
		return nil
	}
	gate, err := p.readGateFromChain(ctx, b)
	if err != nil {
		return err
	}
	if gate.state != contracts.GameStateActive || gate.team != team {
		return nil
	}

	if err := p.submit(ctx, b, &log, "endTurn", func() ([]byte, error) {
		return b.PackEndTurn(playerID)
	}); err != nil {
		if isBenignRace(err) {
			log.Info().Err(err).Msg("End turn raced with a concurrent advance")
			return nil
		}
		return err
	}
	log.Info().Msg("Turn ended")
	return nil
}

func pickCard(hand []uint16, costs []uint8, energy uint8) (uint16, bool) {
	for i, card := range hand {
		if i < len(costs) && costs[i] <= energy {
			return card, true
		}
	}
	return 0, false
}

// submit forwards one action and waits for it to be mined; each action must
// confirm before the next read, because it changes the state the next
// decision depends on.
func (p *Policy) submit(
	ctx context.Context,
	b *contracts.Battle,
	log *zerolog.Logger,
	action string,
	pack func() ([]byte, error),
) error {
	data, err := pack()
	if err != nil {
		return err
	}
	hash, err := p.fwd.Forward(ctx, forwarder.Intent{To: b.Address(), Data: data})
	if err != nil {
		return fmt.Errorf("forward %s: %w", action, err)
	}
	log.Debug().Str("action", action).Str("tx_hash", hash.Hex()).Msg("Submitted, awaiting confirmation")
	if _, err := p.reader.WaitMined(ctx, hash); err != nil {
		return fmt.Errorf("confirm %s: %w", action, err)
	}
	return nil
}
