// Package manager discovers the entities the controlled identity is
// responsible for and keeps a reconciliation actor alive for each of them.
// Discovery is a periodic sweep over the read index, confirmed against the
// chain in one batched call, so a lagging index can neither start actors for
// concluded entities nor hide live ones forever.
package manager

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/actor"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/contracts"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/indexer"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/battle"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/ziggurat"
)

// Config holds discovery tuning.
type Config struct {
	// Interval is the sweep period.
	Interval time.Duration `yaml:"interval" env:"MANAGER_INTERVAL"`

	// StaleAfter marks a running actor as stale when its last check is older
	// than this; a stale actor is restarted to re-arm its wake.
	StaleAfter time.Duration `yaml:"stale_after" env:"MANAGER_STALE_AFTER"`

	// Operator is the controlled identity whose entities are discovered.
	Operator string `yaml:"operator" env:"MANAGER_OPERATOR"`
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		StaleAfter: 5 * time.Minute,
	}
}

// Index is the discovery surface over the read index.
type Index interface {
	BattlesByOperator(ctx context.Context, operator string) ([]indexer.Battle, error)
	PartiesByOwner(ctx context.Context, owner string) ([]indexer.Party, error)
	CharactersInBattle(ctx context.Context, battleAddr, operator string) ([]indexer.Character, error)
}

// ChainReader confirms phases against the chain in one batch.
type ChainReader interface {
	Aggregate(ctx context.Context, calls []chain.ReadCall) ([]chain.ReadResult, error)
}

// ActorHost resolves the one actor per entity key.
type ActorHost interface {
	Actor(namespace, instanceKey string) (*actor.Actor, error)
}

// Manager runs the discovery sweep loop.
type Manager struct {
	cfg    Config
	index  Index
	reader ChainReader
	host   ActorHost
	met    *metrics.ManagerMetrics
	log    zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New builds a Manager. met may be nil to disable metrics.
func New(
	cfg Config,
	index Index,
	reader ChainReader,
	host ActorHost,
	met *metrics.ManagerMetrics,
	log zerolog.Logger,
) (*Manager, error) {
	if cfg.Operator == "" {
		return nil, fmt.Errorf("manager operator address is required")
	}
	if !common.IsHexAddress(cfg.Operator) {
		return nil, fmt.Errorf("manager operator %q is not a valid address", cfg.Operator)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Manager{
		cfg:    cfg,
		index:  index,
		reader: reader,
		host:   host,
		met:    met,
		log:    log.With().Str("component", "manager").Logger(),
	}, nil
}

// Start launches the sweep loop. The first sweep runs immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.stopCh = make(chan struct{})
	m.started = true

	m.wg.Add(1)
	go m.loop(ctx)
	m.log.Info().Dur("interval", m.cfg.Interval).Str("operator", m.cfg.Operator).Msg("Discovery started")
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.started = false
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("Discovery stopped")
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Sweep runs one discovery pass. Exported so operators can trigger it out of
// band, e.g. right after submitting a party creation.
func (m *Manager) Sweep(ctx context.Context) {
	m.sweep(ctx)
}

func (m *Manager) sweep(ctx context.Context) {
	started := time.Now()
	seen, err := m.discover(ctx)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.log.Error().Err(err).Msg("Discovery sweep failed")
	}
	if m.met != nil {
		m.met.Sweeps.WithLabelValues(outcome).Inc()
		m.met.SweepDuration.Observe(time.Since(started).Seconds())
		if err == nil {
			m.met.EntitiesSeen.Set(float64(seen))
		}
	}
}

func (m *Manager) discover(ctx context.Context) (int, error) {
	battles, err := m.discoverBattles(ctx)
	if err != nil {
		return 0, err
	}
	parties, err := m.discoverParties(ctx)
	if err != nil {
		return battles, err
	}
	return battles + parties, nil
}

// discoverBattles finds the operator's battles still worth acting on and
// ensures an actor per controlled character in each.
func (m *Manager) discoverBattles(ctx context.Context) (int, error) {
	rows, err := m.index.BattlesByOperator(ctx, m.cfg.Operator)
	if err != nil {
		return 0, fmt.Errorf("list battles: %w", err)
	}

	var candidates []indexer.Battle
	for _, row := range rows {
		if row.GameState == contracts.GameStateOver || row.GameState == contracts.GameStateCanceled {
			continue
		}
		candidates = append(candidates, row)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	live, err := m.confirmBattles(ctx, candidates)
	if err != nil {
		return 0, err
	}

	seen := 0
	for _, row := range live {
		characters, err := m.index.CharactersInBattle(ctx, row.Address, m.cfg.Operator)
		if err != nil {
			return seen, fmt.Errorf("list characters in %s: %w", row.Address, err)
		}
		for _, ch := range characters {
			seen++
			instance := fmt.Sprintf("%s:%d", common.HexToAddress(row.Address).Hex(), ch.PlayerID)
			params := map[string]string{
				battle.ParamGameAddress: row.Address,
				battle.ParamPlayerID:    strconv.Itoa(int(ch.PlayerID)),
				battle.ParamTeam:        strconv.Itoa(int(ch.Team)),
			}
			m.ensure(ctx, "battle", instance, params)
		}
	}
	return seen, nil
}

// confirmBattles re-reads each candidate's phase in one batch and drops the
// concluded ones the index has not caught up on.
func (m *Manager) confirmBattles(ctx context.Context, rows []indexer.Battle) ([]indexer.Battle, error) {
	calls := make([]chain.ReadCall, len(rows))
	bindings := make([]*contracts.Battle, len(rows))
	for i, row := range rows {
		b, err := contracts.NewBattle(row.Address)
		if err != nil {
			return nil, err
		}
		data, err := b.PackGameState()
		if err != nil {
			return nil, err
		}
		bindings[i] = b
		calls[i] = chain.ReadCall{Target: b.Address(), Data: data, AllowFailure: true}
	}

	results, err := m.reader.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("confirm battle phases: %w", err)
	}

	var live []indexer.Battle
	for i, res := range results {
		if !res.Success {
			m.log.Warn().Str("battle", rows[i].Address).Msg("Phase read reverted, skipping")
			continue
		}
		state, err := bindings[i].UnpackGameState(res.ReturnData)
		if err != nil {
			m.log.Warn().Err(err).Str("battle", rows[i].Address).Msg("Phase decode failed, skipping")
			continue
		}
		if state == contracts.GameStateOver || state == contracts.GameStateCanceled {
			continue
		}
		live = append(live, rows[i])
	}
	return live, nil
}

// discoverParties mirrors discoverBattles for dungeon parties.
func (m *Manager) discoverParties(ctx context.Context) (int, error) {
	rows, err := m.index.PartiesByOwner(ctx, m.cfg.Operator)
	if err != nil {
		return 0, fmt.Errorf("list parties: %w", err)
	}

	var candidates []indexer.Party
	for _, row := range rows {
		if row.State == contracts.PartyStateEnded {
			continue
		}
		candidates = append(candidates, row)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	live, err := m.confirmParties(ctx, candidates)
	if err != nil {
		return 0, err
	}

	for _, row := range live {
		instance := fmt.Sprintf("%s:%s", common.HexToAddress(row.Ziggurat).Hex(), row.PartyID)
		params := map[string]string{
			ziggurat.ParamZigguratAddress: row.Ziggurat,
			ziggurat.ParamPartyID:         row.PartyID,
		}
		m.ensure(ctx, "ziggurat", instance, params)
	}
	return len(live), nil
}

func (m *Manager) confirmParties(ctx context.Context, rows []indexer.Party) ([]indexer.Party, error) {
	calls := make([]chain.ReadCall, len(rows))
	bindings := make([]*contracts.Ziggurat, len(rows))
	for i, row := range rows {
		z, err := contracts.NewZiggurat(row.Ziggurat)
		if err != nil {
			return nil, err
		}
		partyID, ok := new(big.Int).SetString(row.PartyID, 10)
		if !ok {
			return nil, fmt.Errorf("party id %q is not a decimal integer", row.PartyID)
		}
		data, err := z.PackPartyState(partyID)
		if err != nil {
			return nil, err
		}
		bindings[i] = z
		calls[i] = chain.ReadCall{Target: z.Address(), Data: data, AllowFailure: true}
	}

	results, err := m.reader.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("confirm party phases: %w", err)
	}

	var live []indexer.Party
	for i, res := range results {
		if !res.Success {
			m.log.Warn().Str("ziggurat", rows[i].Ziggurat).Str("party", rows[i].PartyID).Msg("Phase read reverted, skipping")
			continue
		}
		state, err := bindings[i].UnpackPartyState(res.ReturnData)
		if err != nil {
			m.log.Warn().Err(err).Str("party", rows[i].PartyID).Msg("Phase decode failed, skipping")
			continue
		}
		if state == contracts.PartyStateEnded {
			continue
		}
		live = append(live, rows[i])
	}
	return live, nil
}

// ensure starts the entity's actor unless it is already running and fresh. A
// fresh actor either checked recently or has a future wake armed; restarting
// it would only churn state.
func (m *Manager) ensure(ctx context.Context, namespace, instance string, params map[string]string) {
	log := m.log.With().Str("entity", actor.EntityKey(namespace, instance)).Logger()

	a, err := m.host.Actor(namespace, instance)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve actor")
		return
	}
	st, err := a.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read actor status")
		return
	}

	if st.Running {
		recent := !st.LastCheckTime.IsZero() && time.Since(st.LastCheckTime) < m.cfg.StaleAfter
		armed := st.Alarm.After(time.Now())
		if recent || armed {
			return
		}
		log.Warn().Time("last_check", st.LastCheckTime).Msg("Actor is stale, restarting")
	}

	if err := a.Start(ctx, params); err != nil {
		log.Error().Err(err).Msg("Failed to start actor")
		return
	}
	if m.met != nil {
		m.met.ActorsStarted.Inc()
	}
	log.Info().Msg("Actor started")
}
