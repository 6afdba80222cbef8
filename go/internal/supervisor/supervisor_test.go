package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	epoch     = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	alice     = models.User{ID: "alice", Name: "Alice"}
	channelID = messaging.ChannelID("p1")
)

const waitFor, pollEvery = 2 * time.Second, 5 * time.Millisecond

var staticTokens = TokenFunc(func(ctx context.Context, user models.User) (string, error) {
	return "token-" + user.ID, nil
})

type recordingFinalizer struct {
	mu   sync.Mutex
	reqs []auction.FinalizeRequest
}

func (f *recordingFinalizer) Finalize(ctx context.Context, req auction.FinalizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *recordingFinalizer) requests() []auction.FinalizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auction.FinalizeRequest(nil), f.reqs...)
}

type fixture struct {
	hub       *messaging.Hub
	clock     *clockwork.FakeClock
	finalizer *recordingFinalizer
	sup       *Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	hub := messaging.NewHub(clock)
	finalizer := &recordingFinalizer{}
	sup := New(hub, staticTokens, WithClock(clock), WithFinalizer(finalizer))
	t.Cleanup(func() { require.NoError(t, sup.Close()) })
	return &fixture{hub: hub, clock: clock, finalizer: finalizer, sup: sup}
}

func testProduct(endsIn time.Duration) models.Product {
	return models.Product{
		ID:               "p1",
		Name:             "Vintage Camera",
		StartingPrice:    100,
		MinimumIncrement: 10,
		EndTime:          epoch.Add(endsIn),
		Status:           models.ProductStatusActive,
	}
}

// send publishes msg to the test channel from a short-lived connection.
func (f *fixture) send(t *testing.T, userID string, msg messaging.Message) {
	t.Helper()
	ctx := context.Background()
	conn, err := f.hub.Dial(ctx, models.User{ID: userID}, "")
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Send(ctx, channelID, msg)
	require.NoError(t, err)
}

func (f *fixture) bid(t *testing.T, userID string, amount float64) {
	t.Helper()
	f.send(t, userID, bidcodec.EncodeBid(userID, amount))
}

func (f *fixture) join(t *testing.T, product models.Product) *auction.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sup.Connect(ctx, alice))
	session, err := f.sup.Join(ctx, product)
	require.NoError(t, err)
	return session
}

func (f *fixture) waitForState(t *testing.T, session *auction.Session, bid float64, bidder string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return s.CurrentBid == bid && s.HighestBidder == bidder
	}, waitFor, pollEvery)
}

func (f *fixture) waitForNotice(t *testing.T, notice string) {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case u := <-f.sup.Updates():
			if u.Notice == notice {
				return
			}
		case <-timeout:
			t.Fatalf("no update with notice %q", notice)
		}
	}
}

func TestJoinHydratesFromHistory(t *testing.T) {
	f := newFixture(t)
	f.bid(t, "bob", 120)
	f.bid(t, "carol", 150)
	f.bid(t, "bob", 130)

	state := f.join(t, testProduct(time.Hour)).Snapshot()

	assert.Equal(t, 150.0, state.CurrentBid)
	assert.Equal(t, "carol", state.HighestBidder)
	assert.Equal(t, auction.PhaseLive, state.Phase)
	assert.Equal(t, StatusConnected, f.sup.Status())
}

func TestLiveBidsApplyInDeliveryOrder(t *testing.T) {
	f := newFixture(t)
	session := f.join(t, testProduct(time.Hour))

	f.bid(t, "bob", 150)
	f.bid(t, "carol", 140)
	f.bid(t, "dave", 170)

	f.waitForState(t, session, 170, "dave")
}

func TestPlaceBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.join(t, testProduct(time.Hour))

	require.NoError(t, f.sup.PlaceBid(ctx, 110))
	f.waitForState(t, session, 110, "alice")

	msgs := f.hub.Messages(channelID)
	require.Len(t, msgs, 1)
	bid, ok := bidcodec.DecodeBid(msgs[0])
	require.True(t, ok)
	assert.Equal(t, bidcodec.Bid{Bidder: "alice", Amount: 110, At: msgs[0].CreatedAt}, bid)

	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 105), auction.ErrBidTooLow)
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 115), auction.ErrBelowIncrement)
	assert.Len(t, f.hub.Messages(channelID), 1)
}

func TestPlaceBidPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 110), ErrNotConnected)

	require.NoError(t, f.sup.Connect(ctx, alice))
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 110), ErrNotJoined)

	_, err := f.sup.Join(ctx, testProduct(time.Hour))
	require.NoError(t, err)
	f.sup.Leave()
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 110), ErrNotJoined)
}

func TestJoinRequiresConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.sup.Join(context.Background(), testProduct(time.Hour))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConcurrentJoinsShareOneWatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sup.Connect(ctx, alice))

	const n = 8
	sessions := make([]*auction.Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.sup.Join(ctx, testProduct(time.Hour))
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, f.hub.Watches(channelID))
}

func TestCountdownDeclaresWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.join(t, testProduct(3*time.Second))

	f.bid(t, "bob", 150)
	f.waitForState(t, session, 150, "bob")

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(3 * time.Second)

	require.Eventually(t, func() bool { return len(f.finalizer.requests()) == 1 }, waitFor, pollEvery)
	assert.Equal(t, auction.FinalizeRequest{ProductID: "p1", Winner: "bob", Amount: 150}, f.finalizer.requests()[0])

	state := session.Snapshot()
	assert.True(t, state.IsEnded)
	assert.Equal(t, "bob", state.Winner)

	msgs := f.hub.Messages(channelID)
	end, ok := bidcodec.DecodeAuctionEnd(msgs[len(msgs)-1])
	require.True(t, ok)
	assert.Equal(t, "bob", end.Winner)
	assert.Equal(t, 150.0, end.FinalBid)
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 500), auction.ErrAuctionEnded)
}

func TestCountdownWithoutBidsEndsWithoutWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.join(t, testProduct(2*time.Second))

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return session.Snapshot().IsEnded }, waitFor, pollEvery)
	require.NoError(t, f.sup.Close())

	assert.Empty(t, session.Snapshot().Winner)
	assert.Empty(t, f.finalizer.requests())
	assert.Empty(t, f.hub.Messages(channelID))
}

func TestEndedHistoryIsNotDeclaredAgain(t *testing.T) {
	f := newFixture(t)
	f.bid(t, "bob", 150)
	f.send(t, "bob", bidcodec.EncodeAuctionEnd("bob", 150))

	state := f.join(t, testProduct(-time.Minute)).Snapshot()
	assert.True(t, state.IsEnded)
	assert.Equal(t, "bob", state.Winner)

	require.NoError(t, f.sup.Close())
	assert.Empty(t, f.finalizer.requests())
	assert.Len(t, f.hub.Messages(channelID), 2)
}

func TestReconnectPreservesStateAndCatchesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.join(t, testProduct(time.Hour))

	f.bid(t, "bob", 150)
	f.waitForState(t, session, 150, "bob")

	f.hub.SetOnline(alice.ID, false)
	f.waitForNotice(t, NoticeConnectionLost)
	assert.Equal(t, StatusDisconnected, f.sup.Status())
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 200), ErrReconnecting)

	// Missed while offline.
	f.bid(t, "carol", 200)
	assert.Equal(t, 150.0, session.Snapshot().CurrentBid)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	f.clock.Advance(5 * time.Second)

	f.waitForNotice(t, NoticeReconnected)
	assert.Equal(t, StatusConnected, f.sup.Status())
	f.waitForState(t, session, 200, "carol")

	current, ok := f.sup.Session()
	require.True(t, ok)
	assert.Same(t, session, current)
	assert.Equal(t, 2, f.hub.Watches(channelID))

	// Live delivery resumes on the new connection.
	f.bid(t, "bob", 250)
	f.waitForState(t, session, 250, "bob")
}

func TestReconnectRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.join(t, testProduct(time.Hour))

	f.hub.SetOnline(alice.ID, false)
	f.waitForNotice(t, NoticeConnectionLost)

	f.hub.SetDialError(errors.New("backend unavailable"))
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	f.clock.Advance(5 * time.Second)
	f.waitForNotice(t, NoticeReconnectFailed)
	assert.Equal(t, StatusDisconnected, f.sup.Status())

	f.hub.SetDialError(nil)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	f.clock.Advance(5 * time.Second)
	f.waitForNotice(t, NoticeReconnected)

	current, ok := f.sup.Session()
	require.True(t, ok)
	assert.Same(t, session, current)
}

func TestConnectFailureSchedulesReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.hub.SetDialError(errors.New("backend unavailable"))
	require.Error(t, f.sup.Connect(ctx, alice))
	assert.Equal(t, StatusDisconnected, f.sup.Status())

	f.hub.SetDialError(nil)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool { return f.sup.Status() == StatusConnected }, waitFor, pollEvery)
}

func TestConnectRequiresUserID(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.sup.Connect(context.Background(), models.User{}))
}

func TestConnectReplacesPreviousConnection(t *testing.T) {
	f := newFixture(t)
	f.join(t, testProduct(time.Hour))

	require.NoError(t, f.sup.Connect(context.Background(), models.User{ID: "bob"}))

	_, ok := f.sup.Session()
	assert.False(t, ok)
	assert.Equal(t, 1, f.hub.OpenConns())
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, testProduct(time.Hour))

	require.NoError(t, f.sup.Close())

	assert.Equal(t, 0, f.hub.OpenConns())
	assert.Equal(t, StatusDisconnected, f.sup.Status())
	assert.ErrorIs(t, f.sup.PlaceBid(ctx, 200), ErrClosed)
	_, err := f.sup.Join(ctx, testProduct(time.Hour))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.sup.Connect(ctx, alice), ErrClosed)
}
