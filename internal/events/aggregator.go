// Package events multiplexes chain log subscriptions. The aggregator owns at
// most one live subscription per (contract address, event topic) pair and
// fans decoded logs out to every registered actor, so N actors watching the
// same event never open N chain subscriptions.
package events

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
)

// EventQuery names one logical event stream. A zero Address matches the
// event on any contract.
type EventQuery struct {
	Name    string
	Address common.Address
	Event   abi.Event
}

// Sink receives pushed logs together with the fields decoded from the
// registered event definition; fields is nil when decoding fails.
// Implementations must tolerate duplicate and out-of-order deliveries; the
// aggregator is at-least-once during reconnects.
type Sink interface {
	OnEvent(ctx context.Context, name string, lg types.Log, fields map[string]any)
}

// Registration maps one subscriber to the event streams it wants.
type Registration struct {
	SubscriberKey string
	Namespace     string
	InstanceKey   string
	Sink          Sink
	Events        []EventQuery
}

// LogSubscriber is the chain surface the aggregator needs.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

type pairKey struct {
	addr  common.Address
	topic common.Hash
}

type subscription struct {
	key    pairKey
	cancel context.CancelFunc
	done   chan struct{}
	refs   map[string]struct{} // subscriber keys holding this pair alive
}

// Aggregator is the singleton event multiplexer.
type Aggregator struct {
	cfg    Config
	client LogSubscriber
	met    *metrics.AggregatorMetrics
	log    zerolog.Logger

	mu      sync.Mutex
	regs    map[string]*Registration
	subs    map[pairKey]*subscription
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

// New builds an Aggregator. met may be nil to disable metrics.
func New(cfg Config, client LogSubscriber, met *metrics.AggregatorMetrics, log zerolog.Logger) *Aggregator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = time.Minute
	}
	return &Aggregator{
		cfg:    cfg,
		client: client,
		met:    met,
		log:    log.With().Str("component", "event-aggregator").Logger(),
		regs:   make(map[string]*Registration),
		subs:   make(map[pairKey]*subscription),
	}
}

// Start sets the lifetime context for subscriptions. Must be called before
// the first Register.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.baseCtx, a.cancel = context.WithCancel(ctx)
	a.started = true
}

// Stop tears down every subscription. Registrations are kept so a later
// Start re-issues them via Register calls from the runtime.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	a.subs = make(map[pairKey]*subscription)
	if a.cancel != nil {
		a.cancel()
	}
	a.started = false
	a.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}

// Register is an idempotent upsert: any prior registration for the same
// subscriber key is replaced, and physical subscriptions are opened only for
// pairs not already live.
func (a *Aggregator) Register(reg Registration) error {
	if reg.SubscriberKey == "" {
		return fmt.Errorf("subscriber key must be provided")
	}
	if reg.Sink == nil {
		return fmt.Errorf("subscriber sink must be provided")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return fmt.Errorf("aggregator not started")
	}

	next := make(map[pairKey]struct{}, len(reg.Events))
	for _, q := range reg.Events {
		next[pairKey{addr: q.Address, topic: q.Event.ID}] = struct{}{}
	}

	// Release only the pairs the new event set abandons; pairs present in
	// both keep their live physical subscription untouched.
	if prev, ok := a.regs[reg.SubscriberKey]; ok {
		for _, q := range prev.Events {
			pk := pairKey{addr: q.Address, topic: q.Event.ID}
			if _, keep := next[pk]; keep {
				continue
			}
			a.releaseLocked(pk, reg.SubscriberKey)
		}
	}

	r := reg
	a.regs[reg.SubscriberKey] = &r

	for pk := range next {
		sub, ok := a.subs[pk]
		if !ok {
			sub = a.spawnLocked(pk)
		}
		sub.refs[reg.SubscriberKey] = struct{}{}
	}

	a.log.Debug().
		Str("subscriber", reg.SubscriberKey).
		Str("namespace", reg.Namespace).
		Int("events", len(reg.Events)).
		Msg("Subscriber registered")
	return nil
}

// Unregister removes a subscriber; pairs with no remaining subscribers are
// torn down. Unknown keys are a no-op.
func (a *Aggregator) Unregister(subscriberKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropLocked(subscriberKey)
	delete(a.regs, subscriberKey)
}

// dropLocked removes the subscriber's refs and stops orphaned subscriptions.
func (a *Aggregator) dropLocked(subscriberKey string) {
	prev, ok := a.regs[subscriberKey]
	if !ok {
		return
	}
	for _, q := range prev.Events {
		a.releaseLocked(pairKey{addr: q.Address, topic: q.Event.ID}, subscriberKey)
	}
}

// releaseLocked drops one subscriber's ref on a pair and tears the pair down
// once nobody holds it.
func (a *Aggregator) releaseLocked(pk pairKey, subscriberKey string) {
	sub, ok := a.subs[pk]
	if !ok {
		return
	}
	delete(sub.refs, subscriberKey)
	if len(sub.refs) == 0 {
		sub.cancel()
		delete(a.subs, pk)
		if a.met != nil {
			a.met.Subscriptions.Dec()
		}
	}
}

func (a *Aggregator) spawnLocked(pk pairKey) *subscription {
	ctx, cancel := context.WithCancel(a.baseCtx)
	sub := &subscription{
		key:    pk,
		cancel: cancel,
		done:   make(chan struct{}),
		refs:   make(map[string]struct{}),
	}
	a.subs[pk] = sub
	if a.met != nil {
		a.met.Subscriptions.Inc()
	}
	go a.run(ctx, sub)
	return sub
}

// run keeps one physical subscription alive, reconnecting with exponential
// backoff and jitter after drops. Logs missed during an outage are not
// replayed; actor wake timers bound the staleness window.
func (a *Aggregator) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	q := ethereum.FilterQuery{Topics: [][]common.Hash{{sub.key.topic}}}
	if sub.key.addr != (common.Address{}) {
		q.Addresses = []common.Address{sub.key.addr}
	}

	delay := a.cfg.ReconnectDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		logsCh := make(chan types.Log, a.cfg.BufferSize)
		chainSub, err := a.client.SubscribeFilterLogs(ctx, q, logsCh)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if a.met != nil {
				a.met.Reconnects.Inc()
			}
			jitter := time.Duration(rng.Int63n(int64(delay/2) + 1))
			wait := delay + jitter
			a.log.Warn().
				Err(err).
				Str("address", sub.key.addr.Hex()).
				Str("topic", sub.key.topic.Hex()).
				Dur("retry_in", wait).
				Msg("Subscription failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			delay *= 2
			if delay > a.cfg.MaxReconnectDelay {
				delay = a.cfg.MaxReconnectDelay
			}
			continue
		}

		delay = a.cfg.ReconnectDelay

	recv:
		for {
			select {
			case <-ctx.Done():
				chainSub.Unsubscribe()
				return
			case err := <-chainSub.Err():
				chainSub.Unsubscribe()
				if ctx.Err() != nil {
					return
				}
				if a.met != nil {
					a.met.Reconnects.Inc()
				}
				a.log.Warn().
					Err(err).
					Str("address", sub.key.addr.Hex()).
					Str("topic", sub.key.topic.Hex()).
					Msg("Subscription dropped, reconnecting")
				break recv
			case lg := <-logsCh:
				a.dispatch(ctx, lg)
			}
		}
	}
}

// dispatch delivers one log to every matching subscriber. Failures (panics)
// in one sink must not block delivery to the others.
func (a *Aggregator) dispatch(ctx context.Context, lg types.Log) {
	if len(lg.Topics) == 0 {
		return
	}

	type delivery struct {
		key  string
		name string
		sink Sink
		ev   abi.Event
	}

	a.mu.Lock()
	var targets []delivery
	for key, reg := range a.regs {
		for _, q := range reg.Events {
			if q.Event.ID != lg.Topics[0] {
				continue
			}
			if q.Address != (common.Address{}) && q.Address != lg.Address {
				continue
			}
			targets = append(targets, delivery{key: key, name: q.Name, sink: reg.Sink, ev: q.Event})
			break // one delivery per subscriber per log
		}
	}
	a.mu.Unlock()

	if len(targets) == 0 {
		if a.met != nil {
			a.met.LogsDropped.Inc()
		}
		return
	}

	// All matching queries share topic0, so one decode serves every target.
	fields, err := DecodeLog(targets[0].ev, lg)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("event", targets[0].name).
			Str("tx", lg.TxHash.Hex()).
			Msg("Failed to decode log, delivering raw")
		fields = nil
	}

	for _, t := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Error().
						Interface("panic", r).
						Str("subscriber", t.key).
						Str("event", t.name).
						Msg("Subscriber panicked handling event")
				}
			}()
			t.sink.OnEvent(ctx, t.name, lg, fields)
		}()
		if a.met != nil {
			a.met.LogsDelivered.Inc()
		}
	}
}

// DecodeLog unpacks the non-indexed fields of a log into a named map using
// the event definition the subscriber registered with.
func DecodeLog(ev abi.Event, lg types.Log) (map[string]any, error) {
	out := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, lg.Data); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 && len(lg.Topics) > 1 {
		if err := abi.ParseTopicsIntoMap(out, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("decode %s topics: %w", ev.Name, err)
		}
	}
	return out, nil
}
