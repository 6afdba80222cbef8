package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/settlement"
	"github.com/mcdev12/auctionhouse/go/internal/tokens"
)

// AuctionClient talks to the auction server's REST endpoints.
type AuctionClient struct {
	*BaseClient
}

func NewAuctionClient(baseURL string) *AuctionClient {
	return &AuctionClient{BaseClient: NewBaseClient(baseURL)}
}

// GetStreamToken requests a channel token for a user.
func (c *AuctionClient) GetStreamToken(ctx context.Context, userID, userName string) (string, error) {
	var resp tokens.TokenResponse
	if err := c.PostJSON(ctx, "/api/get-stream-token", tokens.TokenRequest{UserID: userID, UserName: userName}, &resp); err != nil {
		return "", fmt.Errorf("failed to get stream token: %w", err)
	}
	return resp.Token, nil
}

// Token implements supervisor.TokenSource.
func (c *AuctionClient) Token(ctx context.Context, user models.User) (string, error) {
	return c.GetStreamToken(ctx, user.ID, user.Name)
}

func (c *AuctionClient) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	body, err := c.Get(ctx, "/api/products?id="+url.QueryEscape(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	var product models.Product
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return &product, nil
}

func (c *AuctionClient) ListProducts(ctx context.Context) ([]models.Product, error) {
	body, err := c.Get(ctx, "/api/products")
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var products []models.Product
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return products, nil
}

// FinalizeAuction calls the REST finalize endpoint.
func (c *AuctionClient) FinalizeAuction(ctx context.Context, req auction.FinalizeRequest) (*settlement.FinalizeResponse, error) {
	var resp settlement.FinalizeResponse
	if err := c.PostJSON(ctx, "/api/finalize-auction", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to finalize auction: %w", err)
	}
	return &resp, nil
}

// Finalize implements auction.Finalizer over REST.
func (c *AuctionClient) Finalize(ctx context.Context, req auction.FinalizeRequest) error {
	_, err := c.FinalizeAuction(ctx, req)
	return err
}

// SettlementClient returns a Connect client for the same server.
func (c *AuctionClient) SettlementClient() *settlement.Client {
	return settlement.NewClient(c.HTTPClient(), c.BaseURL())
}
