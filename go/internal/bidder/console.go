// Package bidder is a terminal participant built on the connection
// supervisor.
package bidder

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/supervisor"
)

// Console renders supervisor updates as lines of text. It only prints what
// changed since the previous update.
type Console struct {
	out     io.Writer
	printer *message.Printer
	userID  string

	lastStatus supervisor.Status
	lastState  *auction.State
}

// NewConsole creates a console writing to out. userID marks the viewer's own
// bids.
func NewConsole(out io.Writer, userID string) *Console {
	return &Console{
		out:     out,
		printer: message.NewPrinter(language.AmericanEnglish),
		userID:  userID,
	}
}

// Price formats an amount in dollars with grouping.
func (c *Console) Price(amount float64) string {
	return c.printer.Sprintf("$%.2f", amount)
}

// Render prints an update.
func (c *Console) Render(u supervisor.Update) {
	if u.Status != c.lastStatus {
		c.printer.Fprintf(c.out, "[%s]\n", u.Status)
		c.lastStatus = u.Status
	}
	if u.Notice != "" {
		c.printer.Fprintf(c.out, "%s\n", u.Notice)
	}
	if u.State == nil {
		return
	}

	state := *u.State
	if c.lastState != nil && sameBid(*c.lastState, state) {
		return
	}
	c.lastState = &state

	switch {
	case state.IsEnded && state.Winner != "":
		c.printer.Fprintf(c.out, "Auction ended! %s won with a bid of %s\n", c.name(state.Winner), c.Price(state.CurrentBid))
	case state.IsEnded:
		c.printer.Fprintf(c.out, "Auction ended with no bids.\n")
	case state.HighestBidder == "":
		c.printer.Fprintf(c.out, "Starting bid %s, time left %s\n", c.Price(state.CurrentBid), u.TimeLeft)
	default:
		c.printer.Fprintf(c.out, "Current bid %s by %s, time left %s\n", c.Price(state.CurrentBid), c.name(state.HighestBidder), u.TimeLeft)
	}
}

// Products prints the catalog.
func (c *Console) Products(products []models.Product) {
	for _, p := range products {
		current := p.StartingPrice
		if p.CurrentPrice != nil {
			current = *p.CurrentPrice
		}
		c.printer.Fprintf(c.out, "%-4s %-36s %14s  %s\n", p.ID, p.Name, c.Price(current), p.Status)
	}
}

// Error prints a rejected action.
func (c *Console) Error(err error) {
	c.printer.Fprintf(c.out, "error: %v\n", err)
}

func (c *Console) name(userID string) string {
	if userID == c.userID {
		return "you"
	}
	if u, ok := models.FindDemoUser(userID); ok {
		return u.Name
	}
	return userID
}

func sameBid(a, b auction.State) bool {
	return a.CurrentBid == b.CurrentBid &&
		a.HighestBidder == b.HighestBidder &&
		a.IsEnded == b.IsEnded &&
		a.Winner == b.Winner
}
