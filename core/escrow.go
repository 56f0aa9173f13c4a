package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// WithdrawBid pays out the caller's pending balance for one auction: refunds
// from being outbid and, after settlement, the seller's proceeds and the
// platform fee. The balance is zeroed before the transfer executes, so a
// second call, even one re-entered from inside the transfer itself, fails
// cleanly instead of paying twice. Payouts use the auction's own currency:
// under the one-currency-per-auction rule every credited amount shares it.
func (MarketV1) WithdrawBid(s *State, env *Env, caller common.Address, auctionID uint64) error {
	amount, ok := s.takePending(auctionID, caller)
	if !ok {
		return statef("no pending balance for caller %s on auction %d", caller.Hex(), auctionID)
	}

	a, ok := s.Auctions[auctionID]
	if !ok {
		// A balance can only have been credited by a bid or settlement on
		// a recorded auction; auctions are never deleted.
		return statef("auction %d does not exist", auctionID)
	}

	if a.Currency == CurrencyUSDC {
		token, err := env.Resolver.Token(s.USDCToken)
		if err != nil {
			return fmt.Errorf("resolve USDC token: %w", err)
		}
		if err := token.Transfer(caller, amount); err != nil {
			return fmt.Errorf("refund %s USDC to %s: %w", amount, caller.Hex(), err)
		}
		return nil
	}
	if err := env.Bank.Pay(caller, amount); err != nil {
		return fmt.Errorf("refund %s wei to %s: %w", amount, caller.Hex(), err)
	}
	return nil
}
