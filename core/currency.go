package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketV2 is the currency-adapter generation. It inherits every
// generation-one operation unchanged and adds USDC bidding validated
// against an external ETH/USD price reference.
//
// Currencies are mutually exclusive per auction: the first accepted bid
// fixes the auction's currency and bids in the other unit are rejected.
// The price reference is consulted only to convert the ETH-denominated
// start price into a USDC floor for a first USDC bid.
type MarketV2 struct {
	MarketV1
}

func (MarketV2) Version() uint8 { return Version2 }

// InitializeV2 runs the generation-two setup exactly once per proxy,
// binding the USDC token contract and the ETH/USD price feed. It requires
// generation one to have run first, so an upgrade can never skip setup.
func (MarketV2) InitializeV2(s *State, env *Env, caller, usdcToken, priceFeed common.Address) error {
	if s.InitializedVersion < Version1 {
		return statef("marketplace is not initialized")
	}
	if s.InitializedVersion >= Version2 {
		return statef("already initialized")
	}
	if caller != s.Admin {
		return unauthorized(caller, "initialize the currency adapter")
	}
	if usdcToken == (common.Address{}) {
		return invalidInputf("invalid USDC token contract")
	}
	if priceFeed == (common.Address{}) {
		return invalidInputf("invalid price feed")
	}
	s.USDCToken = usdcToken
	s.PriceFeed = priceFeed
	s.InitializedVersion = Version2
	return nil
}

// PlaceBidWithUSDC records a USDC-denominated bid. Activity and deadline
// checks match PlaceBid. A first bid must meet the start price converted at
// the current ETH/USD rate; later bids must strictly exceed the leading
// USDC amount. The tokens are pulled from the caller (prior approval
// required) only after all bookkeeping is final.
func (MarketV2) PlaceBidWithUSDC(s *State, env *Env, caller common.Address, auctionID uint64, amount *big.Int) error {
	if s.InitializedVersion < Version2 {
		return statef("currency adapter is not initialized")
	}
	a, ok := s.Auctions[auctionID]
	if !ok {
		return statef("auction %d does not exist", auctionID)
	}
	if !a.Active {
		return statef("auction is not active")
	}
	now := env.now()
	if now.Unix() >= a.EndTime {
		return statef("auction has ended")
	}
	if amount == nil || amount.Sign() <= 0 {
		return invalidInputf("bid amount must be greater than 0")
	}
	if a.hasBid() {
		if a.Currency != CurrencyUSDC {
			return statef("auction is denominated in %s", a.Currency)
		}
		if amount.Cmp(a.HighestBid) <= 0 {
			return statef("there already is a higher or equal bid")
		}
		s.creditPending(auctionID, a.HighestBidder, a.HighestBid)
	} else {
		floor, err := usdcStartPrice(s, env, a)
		if err != nil {
			return err
		}
		if amount.Cmp(floor) < 0 {
			return statef("bid is below the start price (%s USDC)", floor)
		}
	}

	a.HighestBid = new(big.Int).Set(amount)
	a.USDCBid = new(big.Int).Set(amount)
	a.HighestBidder = caller
	a.Currency = CurrencyUSDC

	ev := newEvent(EventBidPlaced, auctionID, now)
	ev.Bidder = caller
	ev.Amount = cloneBig(amount)
	ev.Currency = CurrencyUSDC
	env.emit(ev)

	token, err := env.Resolver.Token(s.USDCToken)
	if err != nil {
		return fmt.Errorf("resolve USDC token: %w", err)
	}
	if err := token.TransferFrom(caller, env.Self, amount); err != nil {
		return fmt.Errorf("pull %s USDC from %s: %w", amount, caller.Hex(), err)
	}
	return nil
}

// GetBidCurrency reports the currency of the currently recorded leading
// bid. An auction with no bids yet reports ETH.
func (MarketV2) GetBidCurrency(s *State, auctionID uint64) (Currency, error) {
	a, ok := s.Auctions[auctionID]
	if !ok {
		return CurrencyETH, notFoundf("auction %d", auctionID)
	}
	return a.Currency, nil
}

// GetUSDCBid returns the leading bid's USDC amount, or zero when the
// leading bid is native.
func (MarketV2) GetUSDCBid(s *State, auctionID uint64) (*big.Int, error) {
	a, ok := s.Auctions[auctionID]
	if !ok {
		return nil, notFoundf("auction %d", auctionID)
	}
	if a.Currency != CurrencyUSDC || a.USDCBid == nil {
		return new(big.Int), nil
	}
	return cloneBig(a.USDCBid), nil
}

// usdcStartPrice converts an auction's wei-denominated start price into a
// USDC floor at the current oracle rate. The result is rounded up so a
// converted reserve is never undercut by truncation.
func usdcStartPrice(s *State, env *Env, a *Auction) (*big.Int, error) {
	feed, err := env.Resolver.Feed(s.PriceFeed)
	if err != nil {
		return nil, fmt.Errorf("resolve price feed: %w", err)
	}
	price, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("read ETH/USD price: %w", err)
	}
	if price.Sign() <= 0 {
		return nil, statef("price feed returned a non-positive rate")
	}
	eth := decimal.NewFromBigInt(a.StartPrice, -weiDecimals)
	return eth.Mul(price).Shift(usdcDecimals).Ceil().BigInt(), nil
}
