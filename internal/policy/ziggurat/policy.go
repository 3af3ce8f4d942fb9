// Package ziggurat implements the reconciliation policy for one dungeon
// party: start the party once it fills up, pick a door whenever one is
// offered, and stand down when the run ends.
package ziggurat

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
)

// Start parameter fields identifying the party entity.
const (
	ParamZigguratAddress = "zigguratAddress"
	ParamPartyID         = "partyId"
)

// Config holds ziggurat policy tuning.
type Config struct {
	// PollDelay is the wake interval while the party is forming or the
	// dungeon has not offered doors yet.
	PollDelay time.Duration `yaml:"poll_delay" env:"ZIGGURAT_POLL_DELAY"`
}

func DefaultConfig() Config {
	return Config{PollDelay: 30 * time.Second}
}

// ChainReader is the batched read surface the policy needs.
type ChainReader interface {
	Aggregate(ctx context.Context, calls []chain.ReadCall) ([]chain.ReadResult, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter relays one meta-transaction.
type Submitter interface {
	Forward(ctx context.Context, intent forwarder.Intent) (common.Hash, error)
}

// Policy reconciles one dungeon party per periodic check.
type Policy struct {
	cfg    Config
	reader ChainReader
	fwd    Submitter
	log    zerolog.Logger
}

func New(cfg Config, reader ChainReader, fwd Submitter, log zerolog.Logger) *Policy {
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 30 * time.Second
	}
	return &Policy{
		cfg:    cfg,
		reader: reader,
		fwd:    fwd,
		log:    log.With().Str("component", "ziggurat-policy").Logger(),
	}
}

func (p *Policy) Namespace() string { return "ziggurat" }

func (p *Policy) ValidateParams(params map[string]string) error {
	if params[ParamZigguratAddress] == "" {
		return fmt.Errorf("%s is required", ParamZigguratAddress)
	}
	if !common.IsHexAddress(params[ParamZigguratAddress]) {
		return fmt.Errorf("%s is not a valid address", ParamZigguratAddress)
	}
	if _, ok := new(big.Int).SetString(params[ParamPartyID], 10); !ok {
		return fmt.Errorf("%s must be a decimal integer", ParamPartyID)
	}
	return nil
}

func (p *Policy) EventSubscriptions(params map[string]string) []events.EventQuery {
	binding, err := contracts.NewZiggurat(params[ParamZigguratAddress])
	if err != nil {
		return nil
	}
	var queries []events.EventQuery
	for _, name := range []string{"PartyCreated", "PartyStarted", "DoorChosen", "PartyEnded"} {
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

// PerformPeriodicCheck reads the party's phase and acts on it: a full forming
// party is started, a running party picks a door when one is offered, an
// ended party terminates the actor.
func (p *Policy) PerformPeriodicCheck(ctx context.Context, params map[string]string) (time.Time, error) {
	binding, err := contracts.NewZiggurat(params[ParamZigguratAddress])
	if err != nil {
		return time.Time{}, err
	}
	partyID, ok := new(big.Int).SetString(params[ParamPartyID], 10)
	if !ok {
		return time.Time{}, fmt.Errorf("%s must be a decimal integer", ParamPartyID)
	}
	log := p.log.With().
		Str("ziggurat", binding.Address().Hex()).
		Str("party", partyID.String()).
		Logger()

	state, err := p.readPartyState(ctx, binding, partyID)
	if err != nil {
		return time.Time{}, err
	}

	switch state {
	case contracts.PartyStateEnded:
		log.Info().Msg("Party ended, terminating")
		return time.Time{}, nil
	case contracts.PartyStateForming:
		if err := p.maybeStartParty(ctx, binding, partyID, log); err != nil {
			return time.Time{}, err
		}
	case contracts.PartyStateRunning:
		if err := p.maybeChooseDoor(ctx, binding, partyID, log); err != nil {
			return time.Time{}, err
		}
	default:
		log.Warn().Uint8("state", state).Msg("Unknown party state")
	}
	return time.Now().Add(p.cfg.PollDelay), nil
}

func (p *Policy) readPartyState(ctx context.Context, z *contracts.Ziggurat, partyID *big.Int) (uint8, error) {
	data, err := z.PackPartyState(partyID)
	if err != nil {
		return 0, err
	}
	results, err := p.reader.Aggregate(ctx, []chain.ReadCall{{Target: z.Address(), Data: data}})
	if err != nil {
		return 0, fmt.Errorf("read party state: %w", err)
	}
	return z.UnpackPartyState(results[0].ReturnData)
}

// maybeStartParty starts the party once membership reaches the dungeon's
// maximum. Until then the party keeps forming and the next poll re-checks.
func (p *Policy) maybeStartParty(ctx context.Context, z *contracts.Ziggurat, partyID *big.Int, log zerolog.Logger) error {
	sizeData, err := z.PackPartySize(partyID)
	if err != nil {
		return err
	}
	maxData, err := z.PackMaxPartySize()
	if err != nil {
		return err
	}
	results, err := p.reader.Aggregate(ctx, []chain.ReadCall{
		{Target: z.Address(), Data: sizeData},
		{Target: z.Address(), Data: maxData},
	})
	if err != nil {
		return fmt.Errorf("read party size: %w", err)
	}
	size, err := z.UnpackPartySize(results[0].ReturnData)
	if err != nil {
		return err
	}
	max, err := z.UnpackMaxPartySize(results[1].ReturnData)
	if err != nil {
		return err
	}
	if size == 0 || size < max {
		log.Debug().Uint8("size", size).Uint8("max", max).Msg("Party still forming")
		return nil
	}

	if err := p.submit(ctx, z, &log, "startParty", func() ([]byte, error) {
		return z.PackStartParty(partyID)
	}); err != nil {
		if isBenignRace(err) {
			log.Info().Err(err).Msg("Party start raced with a concurrent advance")
			return nil
		}
		return err
	}
	log.Info().Uint8("size", size).Msg("Party started")
	return nil
}

// maybeChooseDoor picks a door when the dungeon offers any. The pick is a
// pure function of the party id and the door count, so a replayed check
// chooses the same door.
func (p *Policy) maybeChooseDoor(ctx context.Context, z *contracts.Ziggurat, partyID *big.Int, log zerolog.Logger) error {
	countData, err := z.PackDoorCount(partyID)
	if err != nil {
		return err
	}
	results, err := p.reader.Aggregate(ctx, []chain.ReadCall{{Target: z.Address(), Data: countData}})
	if err != nil {
		return fmt.Errorf("read door count: %w", err)
	}
	count, err := z.UnpackDoorCount(results[0].ReturnData)
	if err != nil {
		return err
	}
	if count == 0 {
		log.Debug().Msg("No doors offered")
		return nil
	}

	door := pickDoor(partyID, count)
	if err := p.submit(ctx, z, &log, "chooseDoor", func() ([]byte, error) {
		return z.PackChooseDoor(partyID, door)
	}); err != nil {
		if isBenignRace(err) {
			log.Info().Err(err).Msg("Door choice raced with a concurrent advance")
			return nil
		}
		return err
	}
	log.Info().Uint8("door", door).Uint8("count", count).Msg("Door chosen")
	return nil
}

func pickDoor(partyID *big.Int, count uint8) uint8 {
	mod := new(big.Int).Mod(partyID, big.NewInt(int64(count)))
	return uint8(mod.Uint64())
}

func (p *Policy) submit(
	ctx context.Context,
	z *contracts.Ziggurat,
	log *zerolog.Logger,
	action string,
	pack func() ([]byte, error),
) error {
	data, err := pack()
	if err != nil {
		return err
	}
	hash, err := p.fwd.Forward(ctx, forwarder.Intent{To: z.Address(), Data: data})
	if err != nil {
		return fmt.Errorf("forward %s: %w", action, err)
	}
	log.Debug().Str("action", action).Str("tx_hash", hash.Hex()).Msg("Submitted, awaiting confirmation")
	if _, err := p.reader.WaitMined(ctx, hash); err != nil {
		return fmt.Errorf("confirm %s: %w", action, err)
	}
	return nil
}
