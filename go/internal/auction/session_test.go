package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []messaging.Message
	err  error
}

func (b *recordingBroadcaster) Send(ctx context.Context, channelID string, msg messaging.Message) (messaging.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return messaging.Message{}, b.err
	}
	b.sent = append(b.sent, msg)
	return msg, nil
}

// broadcastFunc adapts a function to Broadcaster.
type broadcastFunc func(ctx context.Context, channelID string, msg messaging.Message) (messaging.Message, error)

func (f broadcastFunc) Send(ctx context.Context, channelID string, msg messaging.Message) (messaging.Message, error) {
	return f(ctx, channelID, msg)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type recordingFinalizer struct {
	mu   sync.Mutex
	reqs []FinalizeRequest
	err  error
}

func (f *recordingFinalizer) Finalize(ctx context.Context, req FinalizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func testProduct(start float64) models.Product {
	return models.Product{
		ID:            "p1",
		Name:          "Test Lot",
		StartingPrice: start,
		EndTime:       time.Now().Add(time.Hour),
		Status:        models.ProductStatusActive,
	}
}

func liveSession(t *testing.T, start float64, history ...messaging.Message) *Session {
	t.Helper()
	s := NewSession(testProduct(start))
	s.BeginHydration()
	s.Hydrate(history)
	return s
}

func bidEvent(bidder string, amount float64) bidcodec.Event {
	return bidcodec.DecodeMessage(bidcodec.EncodeBid(bidder, amount))
}

func TestHydrateWithoutBidsUsesStartingPrice(t *testing.T) {
	state := liveSession(t, 100,
		messaging.Message{Text: "hello there"},
		messaging.Message{Text: "good luck everyone"},
	).Snapshot()

	assert.Equal(t, 100.0, state.CurrentBid)
	assert.Empty(t, state.HighestBidder)
	assert.False(t, state.IsEnded)
	assert.Equal(t, PhaseLive, state.Phase)
}

func TestHydrateSelectsMaximumRegardlessOfOrder(t *testing.T) {
	orders := [][]float64{
		{50, 80, 30},
		{80, 30, 50},
		{30, 50, 80},
	}
	bidders := map[float64]string{50: "alice", 80: "bob", 30: "carol"}

	for _, order := range orders {
		var history []messaging.Message
		for _, amount := range order {
			history = append(history, bidcodec.EncodeBid(bidders[amount], amount))
		}

		state := liveSession(t, 10, history...).Snapshot()
		assert.Equal(t, 80.0, state.CurrentBid, "order %v", order)
		assert.Equal(t, "bob", state.HighestBidder, "order %v", order)
	}
}

func TestHydrateTieGoesToFirstSeen(t *testing.T) {
	state := liveSession(t, 10,
		bidcodec.EncodeBid("alice", 80),
		bidcodec.EncodeBid("bob", 80),
	).Snapshot()

	assert.Equal(t, "alice", state.HighestBidder)
}

func TestHydrateClampsToStartingPrice(t *testing.T) {
	state := liveSession(t, 100,
		bidcodec.EncodeBid("alice", 50),
		bidcodec.EncodeBid("bob", 80),
		bidcodec.EncodeBid("carol", 30),
	).Snapshot()

	assert.Equal(t, 100.0, state.CurrentBid)
	assert.Equal(t, "bob", state.HighestBidder)
}

func TestHydrateEndMarkerShortCircuits(t *testing.T) {
	state := liveSession(t, 10,
		bidcodec.EncodeBid("alice", 50),
		bidcodec.EncodeAuctionEnd("alice", 50),
		bidcodec.EncodeBid("bob", 500),
	).Snapshot()

	assert.True(t, state.IsEnded)
	assert.Equal(t, PhaseEnded, state.Phase)
	assert.Equal(t, "alice", state.Winner)
	assert.Equal(t, 50.0, state.CurrentBid)
}

func TestHydrateReplaysEventsQueuedWhileHydrating(t *testing.T) {
	s := NewSession(testProduct(10))
	s.BeginHydration()

	_, changed := s.Apply(bidEvent("carol", 200))
	assert.False(t, changed)
	assert.Equal(t, PhaseHydrating, s.Snapshot().Phase)

	state := s.Hydrate([]messaging.Message{bidcodec.EncodeBid("alice", 100)})
	assert.Equal(t, 200.0, state.CurrentBid)
	assert.Equal(t, "carol", state.HighestBidder)
}

func TestApplyBidRules(t *testing.T) {
	s := liveSession(t, 100)

	_, changed := s.Apply(bidEvent("alice", 100))
	assert.False(t, changed, "equal bid is a no-op")

	_, changed = s.Apply(bidEvent("alice", 90))
	assert.False(t, changed, "lower bid is a no-op")

	state, changed := s.Apply(bidEvent("alice", 150))
	require.True(t, changed)
	assert.Equal(t, 150.0, state.CurrentBid)
	assert.Equal(t, "alice", state.HighestBidder)

	_, changed = s.Apply(bidEvent("alice", 150))
	assert.False(t, changed, "replayed bid is not applied twice")

	_, changed = s.Apply(bidcodec.Other{Message: messaging.Message{Text: "hello there"}})
	assert.False(t, changed)
}

func TestApplyAfterEndIsFrozen(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("alice", 150))

	state, changed := s.Apply(bidcodec.DecodeMessage(bidcodec.EncodeAuctionEnd("alice", 150)))
	require.True(t, changed)
	assert.True(t, state.IsEnded)
	assert.Equal(t, "alice", state.Winner)

	_, changed = s.Apply(bidEvent("bob", 1000))
	assert.False(t, changed)

	_, changed = s.Apply(bidcodec.DecodeMessage(bidcodec.EncodeAuctionEnd("bob", 1000)))
	assert.False(t, changed, "only the first end marker counts")

	state = s.Snapshot()
	assert.Equal(t, 150.0, state.CurrentBid)
	assert.Equal(t, "alice", state.Winner)
}

func TestCatchUpFoldsWithLiveSemantics(t *testing.T) {
	s := liveSession(t, 10, bidcodec.EncodeBid("alice", 50))
	s.Apply(bidEvent("bob", 70))

	state, changed := s.CatchUp([]messaging.Message{
		bidcodec.EncodeBid("alice", 50),
		bidcodec.EncodeBid("bob", 70),
		bidcodec.EncodeBid("carol", 90),
	})
	require.True(t, changed)
	assert.Equal(t, 90.0, state.CurrentBid)
	assert.Equal(t, "carol", state.HighestBidder)
}

func TestDeclareWinner(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("A", 150))

	b := &recordingBroadcaster{}
	f := &recordingFinalizer{}

	declared, err := s.DeclareWinner(context.Background(), b, f)
	require.NoError(t, err)
	require.True(t, declared)

	state := s.Snapshot()
	assert.True(t, state.IsEnded)
	assert.Equal(t, "A", state.Winner)
	assert.Equal(t, 150.0, state.CurrentBid)

	require.Len(t, b.sent, 1)
	end, ok := bidcodec.DecodeAuctionEnd(b.sent[0])
	require.True(t, ok)
	assert.Equal(t, "A", end.Winner)
	assert.Equal(t, 150.0, end.FinalBid)

	assert.Equal(t, []FinalizeRequest{{ProductID: "p1", Winner: "A", Amount: 150}}, f.reqs)

	declared, err = s.DeclareWinner(context.Background(), b, f)
	require.NoError(t, err)
	assert.False(t, declared)
	assert.Equal(t, 1, b.count())
}

func TestDeclareWinnerFreezesBidsDuringBroadcast(t *testing.T) {
	s := liveSession(t, 100, bidcodec.EncodeBid("alice", 150))

	var lateChanged, echoChanged bool
	b := broadcastFunc(func(ctx context.Context, channelID string, msg messaging.Message) (messaging.Message, error) {
		_, lateChanged = s.Apply(bidEvent("bob", 200))
		_, echoChanged = s.Apply(bidcodec.DecodeMessage(msg))
		return msg, nil
	})
	f := &recordingFinalizer{}

	declared, err := s.DeclareWinner(context.Background(), b, f)
	require.NoError(t, err)
	require.True(t, declared)
	assert.False(t, lateChanged)
	assert.True(t, echoChanged)

	state := s.Snapshot()
	assert.True(t, state.IsEnded)
	assert.Equal(t, "alice", state.Winner)
	assert.Equal(t, "alice", state.HighestBidder)
	assert.Equal(t, 150.0, state.CurrentBid)
	assert.Equal(t, []FinalizeRequest{{ProductID: "p1", Winner: "alice", Amount: 150}}, f.reqs)

	_, changed := s.Apply(bidEvent("bob", 300))
	assert.False(t, changed)
}

func TestDeclareWinnerConcurrentCallsBroadcastOnce(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("A", 150))

	b := &recordingBroadcaster{}
	f := &recordingFinalizer{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.DeclareWinner(context.Background(), b, f)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.count())
	assert.Len(t, f.reqs, 1)
}

func TestDeclareWinnerAfterRemoteEndIsNoop(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("A", 150))
	s.Apply(bidcodec.DecodeMessage(bidcodec.EncodeAuctionEnd("A", 150)))

	b := &recordingBroadcaster{}
	declared, err := s.DeclareWinner(context.Background(), b, nil)
	require.NoError(t, err)
	assert.False(t, declared)
	assert.Zero(t, b.count())
}

func TestDeclareWinnerWithoutBidderEndsWithoutWinner(t *testing.T) {
	s := liveSession(t, 100)
	b := &recordingBroadcaster{}

	declared, err := s.DeclareWinner(context.Background(), b, nil)
	require.NoError(t, err)
	assert.False(t, declared)
	assert.Zero(t, b.count())

	state := s.Snapshot()
	assert.True(t, state.IsEnded)
	assert.Empty(t, state.Winner)
}

func TestDeclareWinnerBroadcastFailureStillEnds(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("A", 150))

	b := &recordingBroadcaster{err: messaging.ErrOffline}
	f := &recordingFinalizer{}

	declared, err := s.DeclareWinner(context.Background(), b, f)
	require.ErrorIs(t, err, ErrBroadcastFailed)
	assert.ErrorIs(t, err, messaging.ErrOffline)
	assert.False(t, declared)
	assert.Empty(t, f.reqs)

	state := s.Snapshot()
	assert.True(t, state.IsEnded)
	assert.Empty(t, state.Winner)
	assert.Equal(t, "A", state.HighestBidder)
}

func TestDeclareWinnerFinalizeFailureKeepsDeclaration(t *testing.T) {
	s := liveSession(t, 100)
	s.Apply(bidEvent("A", 150))

	f := &recordingFinalizer{err: errors.New("settlement unavailable")}
	declared, err := s.DeclareWinner(context.Background(), &recordingBroadcaster{}, f)
	require.ErrorIs(t, err, ErrFinalizeFailed)
	assert.True(t, declared)
	assert.Equal(t, "A", s.Snapshot().Winner)
}
