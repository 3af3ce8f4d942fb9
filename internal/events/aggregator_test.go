package events

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errCh }

// fakeChain records opened subscriptions and lets tests push logs and errors.
type fakeChain struct {
	mu        sync.Mutex
	channels  []chan<- types.Log
	subs      []*fakeSubscription
	dialCount int
}

func (f *fakeChain) SubscribeFilterLogs(
	_ context.Context,
	_ ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialCount++
	sub := &fakeSubscription{errCh: make(chan error, 1)}
	f.channels = append(f.channels, ch)
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeChain) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialCount
}

func (f *fakeChain) emit(lg types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		select {
		case ch <- lg:
		default:
		}
	}
}

func (f *fakeChain) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub.errCh <- context.DeadlineExceeded:
		default:
		}
	}
	f.subs = nil
	f.channels = nil
}

type recordingSink struct {
	mu     sync.Mutex
	names  []string
	fields []map[string]any
}

func (s *recordingSink) OnEvent(_ context.Context, name string, _ types.Log, fields map[string]any) {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.fields = append(s.fields, fields)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

func (s *recordingSink) lastFields() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fields) == 0 {
		return nil
	}
	return s.fields[len(s.fields)-1]
}

type panickySink struct{}

func (panickySink) OnEvent(context.Context, string, types.Log, map[string]any) { panic("boom") }

var (
	turnEndedEvent   = abi.NewEvent("TurnEnded", "TurnEnded", false, abi.Arguments{})
	turnStartedEvent = abi.NewEvent("TurnStarted", "TurnStarted", false, abi.Arguments{})
	battleAddr       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func turnEndedLog() types.Log {
	return types.Log{
		Address:     battleAddr,
		Topics:      []common.Hash{turnEndedEvent.ID},
		BlockNumber: 10,
		Index:       0,
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *fakeChain) {
	t.Helper()
	chain := &fakeChain{}
	agg := New(DefaultConfig(), chain, nil, zerolog.Nop())
	agg.Start(context.Background())
	t.Cleanup(agg.Stop)
	return agg, chain
}

func TestRegister_SharesPhysicalSubscription(t *testing.T) {
	agg, chain := newTestAggregator(t)

	first := &recordingSink{}
	second := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}

	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: first, Events: query}))
	require.NoError(t, agg.Register(Registration{SubscriberKey: "b", Sink: second, Events: query}))

	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	chain.emit(turnEndedLog())
	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, time.Second, 10*time.Millisecond)

	// Still only one chain subscription for two subscribers.
	require.Equal(t, 1, chain.dials())
}

func TestRegister_IdempotentUpsert(t *testing.T) {
	agg, chain := newTestAggregator(t)

	sink := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}

	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	// Actors re-assert their subscriptions on every wake; an unchanged event
	// set must leave the live physical subscription untouched.
	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, chain.dials())

	chain.emit(turnEndedLog())
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, sink.count())
}

func TestRegister_ChangedEventsSwapSubscription(t *testing.T) {
	agg, chain := newTestAggregator(t)

	sink := &recordingSink{}
	ended := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}
	started := []EventQuery{{Name: "TurnStarted", Address: battleAddr, Event: turnStartedEvent}}

	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: ended}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: started}))
	require.Eventually(t, func() bool { return chain.dials() == 2 }, time.Second, 10*time.Millisecond)

	// The abandoned pair is torn down; only the new stream delivers.
	chain.emit(turnEndedLog())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sink.count())

	chain.emit(types.Log{
		Address:     battleAddr,
		Topics:      []common.Hash{turnStartedEvent.ID},
		BlockNumber: 11,
	})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 2, chain.dials())
}

func TestDispatch_DeliversDecodedFields(t *testing.T) {
	agg, chain := newTestAggregator(t)

	uintT, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	cardPlayed := abi.NewEvent("CardPlayed", "CardPlayed", false,
		abi.Arguments{{Name: "cardIndex", Type: uintT}})

	sink := &recordingSink{}
	query := []EventQuery{{Name: "CardPlayed", Address: battleAddr, Event: cardPlayed}}
	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	chain.emit(types.Log{
		Address: battleAddr,
		Topics:  []common.Hash{cardPlayed.ID},
		Data:    common.LeftPadBytes(big.NewInt(7).Bytes(), 32),
	})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	fields := sink.lastFields()
	require.NotNil(t, fields)
	require.Equal(t, big.NewInt(7), fields["cardIndex"])
}

func TestUnregister_StopsDelivery(t *testing.T) {
	agg, chain := newTestAggregator(t)

	sink := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}
	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	agg.Unregister("a")

	chain.emit(turnEndedLog())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sink.count())
}

func TestDispatch_PanicDoesNotBlockOthers(t *testing.T) {
	agg, chain := newTestAggregator(t)

	healthy := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}

	require.NoError(t, agg.Register(Registration{SubscriberKey: "bad", Sink: panickySink{}, Events: query}))
	require.NoError(t, agg.Register(Registration{SubscriberKey: "good", Sink: healthy, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	chain.emit(turnEndedLog())
	require.Eventually(t, func() bool { return healthy.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestReconnect_ResubscribesAndDelivers(t *testing.T) {
	agg, chain := newTestAggregator(t)

	sink := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Address: battleAddr, Event: turnEndedEvent}}
	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	chain.dropAll()

	require.Eventually(t, func() bool { return chain.dials() == 2 }, 5*time.Second, 10*time.Millisecond)

	chain.emit(turnEndedLog())
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRegister_AnyAddressMatches(t *testing.T) {
	agg, chain := newTestAggregator(t)

	sink := &recordingSink{}
	query := []EventQuery{{Name: "TurnEnded", Event: turnEndedEvent}} // zero address
	require.NoError(t, agg.Register(Registration{SubscriberKey: "a", Sink: sink, Events: query}))
	require.Eventually(t, func() bool { return chain.dials() == 1 }, time.Second, 10*time.Millisecond)

	chain.emit(turnEndedLog())
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}
