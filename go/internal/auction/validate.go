package auction

import (
	"errors"
	"fmt"
	"math"

	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var (
	ErrAuctionEnded   = errors.New("this auction has ended")
	ErrInvalidAmount  = errors.New("please enter a valid bid amount")
	ErrBidTooLow      = errors.New("bid must be higher than the current bid")
	ErrBelowIncrement = errors.New("bid is below the minimum increment")
)

// ValidateBid checks a proposed bid against the local state before it is sent.
func ValidateBid(state State, product models.Product, amount float64) error {
	if state.IsEnded {
		return ErrAuctionEnded
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return ErrInvalidAmount
	}
	if amount <= state.CurrentBid {
		return fmt.Errorf("%w of $%s", ErrBidTooLow, bidcodec.FormatAmount(state.CurrentBid))
	}
	if minimum := state.CurrentBid + product.MinimumIncrement; amount < minimum {
		return fmt.Errorf("%w: minimum bid is $%s", ErrBelowIncrement, bidcodec.FormatAmount(minimum))
	}
	return nil
}
