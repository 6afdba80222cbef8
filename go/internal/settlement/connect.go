package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
)

const (
	// ServiceName is the fully-qualified name of the settlement service.
	ServiceName = "auction.v1.SettlementService"

	// FinalizeAuctionProcedure is the path of the FinalizeAuction RPC.
	FinalizeAuctionProcedure = "/" + ServiceName + "/FinalizeAuction"
)

// jsonCodec lets Connect carry plain Go structs as JSON.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// NewConnectHandler builds the Connect handler for the settlement service and
// returns the path to mount it on.
func NewConnectHandler(app *App, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	finalize := connect.NewUnaryHandler(
		FinalizeAuctionProcedure,
		func(ctx context.Context, req *connect.Request[auction.FinalizeRequest]) (*connect.Response[Result], error) {
			result, err := app.Finalize(ctx, *req.Msg)
			if errors.Is(err, ErrInvalidRequest) {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New(validationMessage(err)))
			}
			if err != nil {
				log.Error().Err(err).Str("product_id", req.Msg.ProductID).Msg("failed to finalize auction")
				return nil, connect.NewError(connect.CodeInternal, errors.New("failed to finalize auction"))
			}
			return connect.NewResponse(result), nil
		},
		opts...,
	)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case FinalizeAuctionProcedure:
			finalize.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Client calls the settlement service. It satisfies auction.Finalizer.
type Client struct {
	finalize *connect.Client[auction.FinalizeRequest, Result]
}

// NewClient creates a settlement client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		finalize: connect.NewClient[auction.FinalizeRequest, Result](
			httpClient,
			strings.TrimRight(baseURL, "/")+FinalizeAuctionProcedure,
			opts...,
		),
	}
}

// FinalizeAuction settles an auction and returns the result.
func (c *Client) FinalizeAuction(ctx context.Context, req auction.FinalizeRequest) (*Result, error) {
	resp, err := c.finalize.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Finalize implements auction.Finalizer.
func (c *Client) Finalize(ctx context.Context, req auction.FinalizeRequest) error {
	_, err := c.FinalizeAuction(ctx, req)
	return err
}
