package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/auctionhouse/go/clients"
	"github.com/mcdev12/auctionhouse/go/internal/bidder"
	"github.com/mcdev12/auctionhouse/go/internal/config"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/supervisor"
)

var (
	cfg config.Bidder

	serverURL string
	natsURL   string
	userID    string
	userName  string
)

var rootCmd = &cobra.Command{
	Use:   "bidder",
	Short: "Take part in auctions from the terminal",
	Long: `bidder connects to an auction channel, keeps the current bid and countdown
up to date and places bids typed on standard input.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		loaded, err := config.LoadBidder()
		if err != nil {
			return err
		}
		if err := loaded.Log.Configure(); err != nil {
			return err
		}
		cfg = loaded
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if natsURL != "" {
			cfg.NATSURL = natsURL
		}
		if userID != "" {
			cfg.UserID = userID
		}
		if userName != "" {
			cfg.UserName = userName
		}
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List auctioned products",
	Args:  cobra.NoArgs,
	RunE:  runProducts,
}

var joinCmd = &cobra.Command{
	Use:   "join <product-id>",
	Short: "Join an auction and bid interactively",
	Long: `Join an auction and bid interactively.

Type an amount and press enter to bid. Enter q to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

var bidCmd = &cobra.Command{
	Use:   "bid <product-id> <amount>",
	Short: "Place a single bid and exit",
	Args:  cobra.ExactArgs(2),
	RunE:  runBid,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "auction server URL (default from AUCTION_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats", "", "NATS URL (default from NATS_URL)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id (default from AUCTION_USER_ID)")
	rootCmd.PersistentFlags().StringVar(&userName, "name", "", "display name (default from AUCTION_USER_NAME)")

	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(bidCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runProducts(cmd *cobra.Command, args []string) error {
	client := clients.NewAuctionClient(cfg.ServerURL)
	products, err := client.ListProducts(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}
	bidder.NewConsole(cmd.OutOrStdout(), cfg.UserID).Products(products)
	return nil
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, user, err := joinAuction(ctx, args[0])
	if err != nil {
		return err
	}
	defer sup.Close()

	console := bidder.NewConsole(cmd.OutOrStdout(), user.ID)
	if err := bidder.Run(ctx, sup, cmd.InOrStdin(), console); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runBid(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}

	sup, _, err := joinAuction(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer sup.Close()

	if err := sup.PlaceBid(cmd.Context(), amount); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Bid of %s placed.\n", bidder.NewConsole(nil, "").Price(amount))
	return nil
}

// joinAuction connects a supervisor for the configured user and joins the
// product's auction.
func joinAuction(ctx context.Context, productID string) (*supervisor.Supervisor, models.User, error) {
	if cfg.UserID == "" {
		return nil, models.User{}, fmt.Errorf("a user id is required, set --user or AUCTION_USER_ID")
	}
	user := models.User{ID: cfg.UserID, Name: cfg.UserName}
	if user.Name == "" {
		if demo, ok := models.FindDemoUser(user.ID); ok {
			user.Name = demo.Name
		} else {
			user.Name = user.ID
		}
	}

	client := clients.NewAuctionClient(cfg.ServerURL)
	product, err := client.GetProduct(ctx, productID)
	if err != nil {
		return nil, user, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	jsConfig := messaging.DefaultJetStreamConfig()
	jsConfig.URL = cfg.NATSURL
	sup := supervisor.New(
		messaging.NewNATSDialer(jsConfig),
		client,
		supervisor.WithFinalizer(client.SettlementClient()),
	)

	if err := sup.Connect(ctx, user); err != nil {
		sup.Close()
		return nil, user, fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := sup.Join(ctx, *product); err != nil {
		sup.Close()
		return nil, user, fmt.Errorf("failed to join auction: %w", err)
	}

	log.Info().
		Str("product_id", product.ID).
		Str("user_id", user.ID).
		Msg("joined auction")
	return sup, user, nil
}
