package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/catalog"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	hub     *messaging.Hub
	conn    messaging.Conn
	catalog *catalog.MemoryRepository
	app     *App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	hub := messaging.NewHub(clock)
	conn, err := hub.Dial(context.Background(), models.User{ID: "system", Name: "Auction House"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	products, err := catalog.DefaultSeed(epoch)
	require.NoError(t, err)
	repo := catalog.NewMemoryRepository(products, clock)

	return &fixture{hub: hub, conn: conn, catalog: repo, app: NewApp(conn, repo, clock)}
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.app.Finalize(ctx, auction.FinalizeRequest{ProductID: "1", Winner: "user-42", Amount: 15500})
	require.NoError(t, err)
	assert.False(t, result.AlreadyFinalized)
	assert.Equal(t, epoch, result.CompletedAt)

	msgs := f.hub.Messages("auction-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, messaging.MessageTypeSystem, msgs[0].Type)
	assert.Equal(t, "system", msgs[0].UserID)
	end, ok := bidcodec.DecodeAuctionEnd(msgs[0])
	require.True(t, ok)
	assert.Equal(t, "user-42", end.Winner)
	assert.Equal(t, 15500.0, end.FinalBid)

	data, err := f.conn.ChannelData(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, messaging.AuctionStatusCompleted, data.AuctionStatus)
	assert.Equal(t, "user-42", data.Winner)
	require.NotNil(t, data.FinalAmount)
	assert.Equal(t, 15500.0, *data.FinalAmount)
	require.NotNil(t, data.CompletedAt)

	p, err := f.catalog.GetProduct(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusEnded, p.Status)
	assert.Equal(t, "user-42", *p.Winner)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.Finalize(ctx, auction.FinalizeRequest{ProductID: "2", Winner: "user-42", Amount: 25010})
	require.NoError(t, err)

	result, err := f.app.Finalize(ctx, auction.FinalizeRequest{ProductID: "2", Winner: "user-123", Amount: 26000})
	require.NoError(t, err)
	assert.True(t, result.AlreadyFinalized)
	assert.Equal(t, "user-42", result.Winner)
	assert.Equal(t, 25010.0, result.Amount)
	assert.Len(t, f.hub.Messages("auction-2"), 1)
}

func TestFinalizeValidation(t *testing.T) {
	f := newFixture(t)

	tests := map[string]auction.FinalizeRequest{
		"productId is required":            {Winner: "a", Amount: 1},
		"winner is required":               {ProductID: "1", Amount: 1},
		"amount must be a positive number": {ProductID: "1", Winner: "a"},
	}
	for msg, req := range tests {
		t.Run(msg, func(t *testing.T) {
			_, err := f.app.Finalize(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, msg, validationMessage(err))
		})
	}
}

func TestFinalizeBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.hub.SetOnline("system", false)

	_, err := f.app.Finalize(context.Background(), auction.FinalizeRequest{ProductID: "1", Winner: "a", Amount: 1})
	assert.ErrorIs(t, err, ErrBackend)
}

func TestHandleFinalize(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.app).RegisterRoutes(mux)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/finalize-auction", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"productId":"3","winner":"user-456","amount":350010}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = post(`{"productId":"3","amount":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"winner is required"}`, rec.Body.String())

	f.hub.SetOnline("system", false)
	rec = post(`{"productId":"1","winner":"user-456","amount":10}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to finalize auction"}`, rec.Body.String())
}

func TestConnectRoundTrip(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	mux.Handle(NewConnectHandler(f.app))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.Client(), server.URL)

	result, err := client.FinalizeAuction(context.Background(), auction.FinalizeRequest{ProductID: "1", Winner: "user-123", Amount: 15010})
	require.NoError(t, err)
	assert.Equal(t, "user-123", result.Winner)
	assert.Len(t, f.hub.Messages("auction-1"), 1)

	err = client.Finalize(context.Background(), auction.FinalizeRequest{ProductID: "1"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
