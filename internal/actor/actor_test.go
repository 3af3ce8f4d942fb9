package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
)

type stubPolicy struct {
	ns     string
	subs   []events.EventQuery
	check  func(ctx context.Context, params map[string]string) (time.Time, error)
	checks atomic.Int32
}

func (p *stubPolicy) Namespace() string { return p.ns }

func (p *stubPolicy) ValidateParams(params map[string]string) error {
	if params["gameAddress"] == "" {
		return fmt.Errorf("gameAddress is required")
	}
	return nil
}

func (p *stubPolicy) EventSubscriptions(map[string]string) []events.EventQuery { return p.subs }

func (p *stubPolicy) PerformPeriodicCheck(ctx context.Context, params map[string]string) (time.Time, error) {
	p.checks.Add(1)
	if p.check != nil {
		return p.check(ctx, params)
	}
	return time.Now().Add(time.Minute), nil
}

type stubRegistrar struct {
	mu          sync.Mutex
	registered  map[string]events.Registration
	unregisters []string
}

func newStubRegistrar() *stubRegistrar {
	return &stubRegistrar{registered: make(map[string]events.Registration)}
}

func (r *stubRegistrar) Register(reg events.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[reg.SubscriberKey] = reg
	return nil
}

func (r *stubRegistrar) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, key)
	r.unregisters = append(r.unregisters, key)
}

func newTestRuntime(t *testing.T, policy Policy) (*Runtime, *MemoryStateStore, *Scheduler, *stubRegistrar) {
	t.Helper()
	store := NewMemoryStateStore()
	sched := NewScheduler(zerolog.Nop())
	registrar := newStubRegistrar()

	cfg := DefaultConfig()
	cfg.DefaultStartDelay = 10 * time.Millisecond
	cfg.RetryDelay = 20 * time.Millisecond

	rt := NewRuntime(cfg, store, sched, registrar, nil, zerolog.Nop())
	rt.RegisterPolicy(policy)
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)
	return rt, store, sched, registrar
}

var startParams = map[string]string{
	"gameAddress": "0x00000000000000000000000000000000000000b1",
	"playerId":    "1",
	"team":        "0",
}

func TestAtMostOneActorPerKey(t *testing.T) {
	policy := &stubPolicy{ns: "battle"}
	rt, _, _, _ := newTestRuntime(t, policy)

	const n = 16
	actors := make([]*Actor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := rt.Actor("battle", "0xb1")
			require.NoError(t, err)
			actors[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, actors[0], actors[i])
	}
}

func TestStart_Idempotent(t *testing.T) {
	policy := &stubPolicy{ns: "battle"}
	rt, store, sched, registrar := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background(), startParams))
	firstWake, pending := sched.NextWake(a.key)
	require.True(t, pending)
	once, err := store.List(context.Background(), a.key)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background(), startParams))
	twice, err := store.List(context.Background(), a.key)
	require.NoError(t, err)

	require.Equal(t, once, twice)

	// The pending wake is left in place, not duplicated or pushed out.
	secondWake, pending := sched.NextWake(a.key)
	require.True(t, pending)
	require.Equal(t, firstWake, secondWake)

	registrar.mu.Lock()
	require.Len(t, registrar.registered, 0) // no subscriptions requested by this policy
	registrar.mu.Unlock()
}

func TestStart_MissingParamsRejected(t *testing.T) {
	policy := &stubPolicy{ns: "battle"}
	rt, store, _, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)

	err = a.Start(context.Background(), map[string]string{"playerId": "1"})
	require.Error(t, err)

	// A rejected start must not leave partial state behind.
	st, err := store.List(context.Background(), a.key)
	require.NoError(t, err)
	require.Empty(t, st)
}

func TestWake_SchedulesExactPolicyTimestamp(t *testing.T) {
	next := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	policy := &stubPolicy{
		ns:    "battle",
		check: func(context.Context, map[string]string) (time.Time, error) { return next, nil },
	}
	rt, _, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background(), startParams))

	a.onWake(context.Background())

	got, pending := sched.NextWake(a.key)
	require.True(t, pending)
	require.Equal(t, next, got) // exactly the policy's timestamp, not an interval
}

func TestWake_TerminationIsTerminal(t *testing.T) {
	policy := &stubPolicy{
		ns:    "battle",
		check: func(context.Context, map[string]string) (time.Time, error) { return time.Time{}, nil },
	}
	rt, store, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background(), startParams))

	a.onWake(context.Background())

	st, err := store.List(context.Background(), a.key)
	require.NoError(t, err)
	require.Empty(t, st)

	_, pending := sched.NextWake(a.key)
	require.False(t, pending)

	status, err := a.Status(context.Background())
	require.NoError(t, err)
	require.False(t, status.Running)

	// The runtime hands out a fresh instance afterwards.
	b, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NotSame(t, a, b)
}

func TestWake_ErrorFallsBackToRetryDelay(t *testing.T) {
	policy := &stubPolicy{
		ns: "battle",
		check: func(context.Context, map[string]string) (time.Time, error) {
			return time.Time{}, fmt.Errorf("rpc hiccup")
		},
	}
	rt, store, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background(), startParams))

	before := time.Now()
	a.onWake(context.Background())

	// An error must not terminate the actor: state survives and a short
	// retry wake is pending.
	st, err := store.List(context.Background(), a.key)
	require.NoError(t, err)
	require.NotEmpty(t, st)

	got, pending := sched.NextWake(a.key)
	require.True(t, pending)
	require.WithinDuration(t, before.Add(20*time.Millisecond), got, 150*time.Millisecond)
}

func TestWake_PolicyPanicIsContained(t *testing.T) {
	policy := &stubPolicy{
		ns:    "battle",
		check: func(context.Context, map[string]string) (time.Time, error) { panic("bad fallback") },
	}
	rt, store, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background(), startParams))

	require.NotPanics(t, func() { a.onWake(context.Background()) })

	st, err := store.List(context.Background(), a.key)
	require.NoError(t, err)
	require.NotEmpty(t, st)
	_, pending := sched.NextWake(a.key)
	require.True(t, pending)
}

func TestOnEvent_DuplicatesAbsorbed(t *testing.T) {
	policy := &stubPolicy{ns: "battle"}
	rt, _, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background(), startParams))
	sched.Cancel(a.key) // isolate event-triggered wakes from the start wake

	lg := types.Log{
		BlockHash: common.HexToHash("0x01"),
		Index:     3,
	}
	a.OnEvent(context.Background(), "TurnEnded", lg, nil)
	a.OnEvent(context.Background(), "TurnEnded", lg, nil)

	require.Eventually(t, func() bool {
		return policy.checks.Load() == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), policy.checks.Load())
}

func TestStatus_ReflectsStateAndAlarm(t *testing.T) {
	policy := &stubPolicy{ns: "battle"}
	rt, _, sched, _ := newTestRuntime(t, policy)

	a, err := rt.Actor("battle", "0xb1")
	require.NoError(t, err)

	status, err := a.Status(context.Background())
	require.NoError(t, err)
	require.False(t, status.Running)
	require.False(t, status.Alive)

	require.NoError(t, a.Start(context.Background(), startParams))
	sched.Cancel(a.key)
	a.onWake(context.Background())

	status, err = a.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.Running)
	require.True(t, status.Alive)
	require.WithinDuration(t, time.Now(), status.LastCheckTime, 5*time.Second)
	require.False(t, status.Alarm.IsZero())
	require.Equal(t, startParams["gameAddress"], status.Parameters["gameAddress"])
}
