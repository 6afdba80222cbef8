package bidder

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/supervisor"
)

// Bidder is the part of the supervisor the interactive loop drives.
type Bidder interface {
	PlaceBid(ctx context.Context, amount float64) error
	Updates() <-chan supervisor.Update
}

// Run renders updates and turns each input line into a bid until the input
// ends, "q" is entered or ctx is done.
func Run(ctx context.Context, b Bidder, in io.Reader, console *Console) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-b.Updates():
			console.Render(u)
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				return nil
			}
			if line == "" {
				continue
			}
			amount, err := parseAmount(line)
			if err != nil {
				console.Error(err)
				continue
			}
			if err := b.PlaceBid(ctx, amount); err != nil {
				console.Error(err)
			}
		}
	}
}

func parseAmount(s string) (float64, error) {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, auction.ErrInvalidAmount
	}
	return amount, nil
}
