// Package actor implements the reconciliation-actor framework: a long-lived
// per-entity control loop that persists its parameters in a state store,
// sleeps until a policy-chosen deadline, re-checks chain state on wake or on
// pushed events, and tears itself down when the policy reports no more work.
package actor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
)

// Policy is the pluggable decision logic of an actor. Implementations may
// perform network reads but must not touch the timer or subscription
// machinery; the framework owns all lifecycle transitions.
type Policy interface {
	// Namespace scopes entity keys, e.g. "battle" or "ziggurat".
	Namespace() string
	// ValidateParams rejects a Start call missing required parameters.
	ValidateParams(params map[string]string) error
	// EventSubscriptions lists the event streams the entity should watch.
	EventSubscriptions(params map[string]string) []events.EventQuery
	// PerformPeriodicCheck reconciles the entity and returns the next wake
	// time. A zero time means the entity needs no further work and the actor
	// should terminate.
	PerformPeriodicCheck(ctx context.Context, params map[string]string) (time.Time, error)
}

// Registrar is the aggregator surface the framework needs.
type Registrar interface {
	Register(reg events.Registration) error
	Unregister(subscriberKey string)
}

// Status is the introspection snapshot used by the discovery controller.
type Status struct {
	Running       bool
	Alive         bool
	LastCheckTime time.Time
	Alarm         time.Time
	Parameters    map[string]string
}

// Config holds framework-level timing knobs shared by all actors.
type Config struct {
	// DefaultStartDelay bounds how soon after Start the first check runs
	// when no wake is already pending.
	DefaultStartDelay time.Duration `yaml:"default_start_delay" env:"ACTOR_DEFAULT_START_DELAY"`

	// RetryDelay is the fallback wake after a failed or panicked check.
	RetryDelay time.Duration `yaml:"retry_delay" env:"ACTOR_RETRY_DELAY"`

	// CheckTimeout bounds a single periodic check.
	CheckTimeout time.Duration `yaml:"check_timeout" env:"ACTOR_CHECK_TIMEOUT"`

	// AliveThreshold is how fresh lastCheckTime must be for Status.Alive.
	AliveThreshold time.Duration `yaml:"alive_threshold" env:"ACTOR_ALIVE_THRESHOLD"`

	// RecentEventLimit caps the per-actor duplicate-log suppression set.
	RecentEventLimit int `yaml:"recent_event_limit" env:"ACTOR_RECENT_EVENT_LIMIT"`
}

func DefaultConfig() Config {
	return Config{
		DefaultStartDelay: 2 * time.Second,
		RetryDelay:        5 * time.Second,
		CheckTimeout:      2 * time.Minute,
		AliveThreshold:    5 * time.Minute,
		RecentEventLimit:  256,
	}
}

// lastCheckField is the reserved state field recording the last check time
// as unix seconds. All other fields are policy-owned start parameters.
const lastCheckField = "lastCheckTime"

// Actor is the per-entity runner. Its entry points (Start, onWake, OnEvent,
// Terminate) are serialized by a mutex: the handler that started first
// completes before the next is admitted, giving single-writer semantics per
// entity key. Different entities run fully concurrently.
type Actor struct {
	key         string // namespace/instance, the state partition key
	instanceKey string
	policy      Policy

	cfg       Config
	store     StateStore
	scheduler *Scheduler
	registrar Registrar
	met       *metrics.ActorMetrics
	onRemove  func(key string)
	log       zerolog.Logger

	mu sync.Mutex

	// Bounded FIFO of recently processed log ids; absorbs duplicate event
	// deliveries from the at-least-once aggregator.
	recentSeen  map[string]struct{}
	recentOrder []string
}

// Start validates and persists the entity's parameters, asserts event
// subscriptions, and ensures a wake is pending. It is safe to call repeatedly
// with the same parameters: subscriptions are upserted and an existing wake
// is left in place.
func (a *Actor) Start(ctx context.Context, params map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.policy.ValidateParams(params); err != nil {
		return fmt.Errorf("start %s: %w", a.key, err)
	}
	if err := a.store.PutAll(ctx, a.key, params); err != nil {
		return fmt.Errorf("persist params for %s: %w", a.key, err)
	}

	if err := a.registerSubscriptions(params); err != nil {
		return err
	}

	if _, pending := a.scheduler.NextWake(a.key); !pending {
		a.scheduler.Schedule(a.key, time.Now().Add(a.cfg.DefaultStartDelay))
	}

	a.log.Info().Msg("Actor started")
	return nil
}

// Status reports the actor's externally observable state.
func (a *Actor) Status(ctx context.Context) (Status, error) {
	params, err := a.store.List(ctx, a.key)
	if err != nil {
		return Status{}, fmt.Errorf("load state for %s: %w", a.key, err)
	}

	var lastCheck time.Time
	if raw, ok := params[lastCheckField]; ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastCheck = time.Unix(secs, 0)
		}
	}
	delete(params, lastCheckField)

	running := len(params) > 0
	alarm, _ := a.scheduler.NextWake(a.key)
	alive := running && time.Since(lastCheck) < a.cfg.AliveThreshold

	return Status{
		Running:       running,
		Alive:         alive,
		LastCheckTime: lastCheck,
		Alarm:         alarm,
		Parameters:    params,
	}, nil
}

// Terminate tears the actor down: subscriptions removed, pending wake
// cancelled, all persisted state deleted. Idempotent.
func (a *Actor) Terminate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminateLocked(ctx)
}

func (a *Actor) terminateLocked(ctx context.Context) error {
	a.registrar.Unregister(a.key)
	a.scheduler.Cancel(a.key)
	if err := a.store.DeleteAll(ctx, a.key); err != nil {
		return fmt.Errorf("delete state for %s: %w", a.key, err)
	}
	if a.onRemove != nil {
		a.onRemove(a.key)
	}
	a.log.Info().Msg("Actor terminated")
	return nil
}

// OnEvent implements events.Sink. A matching log triggers an out-of-band
// reconciliation pass instead of waiting for the pending timer. Logs may
// arrive duplicated or out of order; duplicates are absorbed here and the
// check itself re-reads chain state, so delivery remains idempotent.
func (a *Actor) OnEvent(_ context.Context, name string, lg types.Log, fields map[string]any) {
	a.mu.Lock()
	id := fmt.Sprintf("%s:%d:%t", lg.BlockHash.Hex(), lg.Index, lg.Removed)
	if _, seen := a.recentSeen[id]; seen {
		a.mu.Unlock()
		a.log.Debug().Str("event", name).Str("log_id", id).Msg("Duplicate event ignored")
		return
	}
	a.recentSeen[id] = struct{}{}
	a.recentOrder = append(a.recentOrder, id)
	if len(a.recentOrder) > a.cfg.RecentEventLimit {
		oldest := a.recentOrder[0]
		a.recentOrder = a.recentOrder[1:]
		delete(a.recentSeen, oldest)
	}
	a.mu.Unlock()

	a.log.Debug().
		Str("event", name).
		Uint64("block", lg.BlockNumber).
		Interface("fields", fields).
		Msg("Event received, scheduling immediate check")
	a.scheduler.Schedule(a.key, time.Now())
}

// onWake is the timer-fired entry point. It reloads state from the store
// (in-memory fields may not have survived a restart), records the check
// time, runs the policy, and either terminates or schedules exactly the
// timestamp the policy returned. Policy failures never kill the actor; they
// reschedule a short fixed retry.
func (a *Actor) onWake(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	params, err := a.store.List(ctx, a.key)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to load state, retrying")
		a.scheduler.Schedule(a.key, time.Now().Add(a.cfg.RetryDelay))
		return
	}
	delete(params, lastCheckField)
	if len(params) == 0 {
		// No start parameters: the actor was never initialized or was reset.
		a.log.Warn().Msg("Wake for uninitialized actor, ignoring")
		return
	}

	// Re-assert subscriptions; after a restart the aggregator has none.
	if err := a.registerSubscriptions(params); err != nil {
		a.log.Error().Err(err).Msg("Failed to re-assert subscriptions")
	}

	if err := a.store.Put(ctx, a.key, lastCheckField, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		a.log.Error().Err(err).Msg("Failed to record check time")
	}

	started := time.Now()
	next, err := a.runCheck(ctx, params)
	if a.met != nil {
		a.met.CheckDuration.Observe(time.Since(started).Seconds())
	}

	switch {
	case err != nil:
		a.log.Warn().Err(err).Dur("retry_in", a.cfg.RetryDelay).Msg("Periodic check failed, retrying")
		a.scheduler.Schedule(a.key, time.Now().Add(a.cfg.RetryDelay))
		if a.met != nil {
			a.met.Wakes.WithLabelValues("retry").Inc()
		}
	case next.IsZero():
		if terr := a.terminateLocked(ctx); terr != nil {
			a.log.Error().Err(terr).Msg("Teardown failed, retrying")
			a.scheduler.Schedule(a.key, time.Now().Add(a.cfg.RetryDelay))
			return
		}
		if a.met != nil {
			a.met.Wakes.WithLabelValues("terminated").Inc()
			a.met.Terminations.Inc()
		}
	default:
		// Sleep until the domain-meaningful next event, not a fixed interval.
		a.scheduler.Schedule(a.key, next)
		if a.met != nil {
			a.met.Wakes.WithLabelValues("ok").Inc()
		}
		a.log.Debug().Time("next_wake", next).Msg("Check complete")
	}
}

// runCheck invokes the policy behind the framework's outermost error
// boundary: panics become errors so a misbehaving policy degrades to the
// retry path instead of crashing the process.
func (a *Actor) runCheck(ctx context.Context, params map[string]string) (next time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = time.Time{}
			err = fmt.Errorf("policy panicked: %v", r)
		}
	}()

	checkCtx := ctx
	if a.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, a.cfg.CheckTimeout)
		defer cancel()
	}
	return a.policy.PerformPeriodicCheck(checkCtx, params)
}

func (a *Actor) registerSubscriptions(params map[string]string) error {
	queries := a.policy.EventSubscriptions(params)
	if len(queries) == 0 {
		return nil
	}
	return a.registrar.Register(events.Registration{
		SubscriberKey: a.key,
		Namespace:     a.policy.Namespace(),
		InstanceKey:   a.instanceKey,
		Sink:          a,
		Events:        queries,
	})
}
