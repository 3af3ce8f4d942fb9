package actor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
)

// Runtime hosts the actors. It enforces at-most-one actor instance per
// entity key and routes scheduler wakes back to the owning actor, recreating
// it from persisted state when the process restarted in between.
type Runtime struct {
	cfg       Config
	store     StateStore
	scheduler *Scheduler
	registrar Registrar
	met       *metrics.ActorMetrics
	log       zerolog.Logger

	mu       sync.Mutex
	policies map[string]Policy
	actors   map[string]*Actor

	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRuntime builds a Runtime. met may be nil to disable metrics.
func NewRuntime(
	cfg Config,
	store StateStore,
	scheduler *Scheduler,
	registrar Registrar,
	met *metrics.ActorMetrics,
	log zerolog.Logger,
) *Runtime {
	return &Runtime{
		cfg:       cfg,
		store:     store,
		scheduler: scheduler,
		registrar: registrar,
		met:       met,
		log:       log.With().Str("component", "actor-runtime").Logger(),
		policies:  make(map[string]Policy),
		actors:    make(map[string]*Actor),
	}
}

// RegisterPolicy makes a policy's namespace spawnable.
func (r *Runtime) RegisterPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Namespace()] = p
}

// Start begins dispatching wakes.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.baseCtx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	r.scheduler.Start(r.dispatchWake)
}

// Stop halts the scheduler; actors keep their persisted state.
func (r *Runtime) Stop() {
	r.scheduler.Stop()
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.started = false
	r.mu.Unlock()
}

// EntityKey builds the state partition key for a namespace and instance.
func EntityKey(namespace, instanceKey string) string {
	return namespace + "/" + instanceKey
}

// Actor returns the one actor for the entity key, creating it if absent.
// Concurrent callers for the same key observe the same instance.
func (r *Runtime) Actor(namespace, instanceKey string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actorLocked(namespace, instanceKey)
}

func (r *Runtime) actorLocked(namespace, instanceKey string) (*Actor, error) {
	key := EntityKey(namespace, instanceKey)
	if a, ok := r.actors[key]; ok {
		return a, nil
	}

	policy, ok := r.policies[namespace]
	if !ok {
		return nil, fmt.Errorf("no policy registered for namespace %q", namespace)
	}

	a := &Actor{
		key:         key,
		instanceKey: instanceKey,
		policy:      policy,
		cfg:         r.cfg,
		store:       r.store,
		scheduler:   r.scheduler,
		registrar:   r.registrar,
		met:         r.met,
		onRemove:    r.remove,
		log:         r.log.With().Str("entity", key).Logger(),
		recentSeen:  make(map[string]struct{}),
	}
	r.actors[key] = a
	if r.met != nil {
		r.met.ActorsActive.Inc()
	}
	return a, nil
}

func (r *Runtime) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actors[key]; ok {
		delete(r.actors, key)
		if r.met != nil {
			r.met.ActorsActive.Dec()
		}
	}
}

// dispatchWake routes a fired deadline to its actor. An unknown key after a
// restart is rebuilt from its namespace so persisted state is restored
// before the check runs.
func (r *Runtime) dispatchWake(entityKey string) {
	r.mu.Lock()
	a, ok := r.actors[entityKey]
	if !ok {
		namespace, instanceKey, found := strings.Cut(entityKey, "/")
		if !found {
			r.mu.Unlock()
			r.log.Error().Str("entity", entityKey).Msg("Wake for malformed entity key")
			return
		}
		var err error
		a, err = r.actorLocked(namespace, instanceKey)
		if err != nil {
			r.mu.Unlock()
			r.log.Error().Err(err).Str("entity", entityKey).Msg("Wake for unknown namespace")
			return
		}
	}
	ctx := r.baseCtx
	r.mu.Unlock()

	if ctx == nil {
		return
	}
	a.onWake(ctx)
}
