package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// Version1 is the original logic generation: native-currency auctions,
	// pull-payment refunds, fee administration.
	Version1 uint8 = 1
	// Version2 adds the currency adapter (USDC bids against a price feed).
	Version2 uint8 = 2

	minDurationHours      = 1
	defaultFeeBasisPoints = 200
	maxFeeBasisPoints     = 1000
	basisPointDenominator = 10000
)

// MarketV1 is the first logic generation. Its methods operate on the shared
// persistent State; the Proxy decides which generation is live.
//
// Every mutating method follows the same discipline: validate, mutate
// state, and only then touch external collaborators, so a callee that
// re-enters observes nothing half-updated.
type MarketV1 struct{}

func (MarketV1) Version() uint8 { return Version1 }

// Initialize runs the generation-one setup exactly once: the caller becomes
// the administrator and the fee configuration gets its initial values.
func (MarketV1) Initialize(s *State, env *Env, caller, feeRecipient common.Address) error {
	if s.InitializedVersion >= Version1 {
		return statef("already initialized")
	}
	if feeRecipient == (common.Address{}) {
		return invalidInputf("fee recipient must not be the zero address")
	}
	s.Admin = caller
	s.FeeRecipient = feeRecipient
	s.FeeBasisPoints = defaultFeeBasisPoints
	if s.NextAuctionID == 0 {
		s.NextAuctionID = 1
	}
	s.InitializedVersion = Version1
	return nil
}

// CreateAuction registers a new auction under the next sequential id and
// takes custody of the asset. The caller must have approved the transfer
// beforehand.
func (MarketV1) CreateAuction(s *State, env *Env, caller, nftContract common.Address, tokenID, startPrice *big.Int, durationHours uint64) (uint64, error) {
	if s.InitializedVersion < Version1 {
		return 0, statef("marketplace is not initialized")
	}
	if nftContract == (common.Address{}) {
		return 0, invalidInputf("invalid NFT contract")
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return 0, invalidInputf("invalid token id")
	}
	if startPrice == nil || startPrice.Sign() <= 0 {
		return 0, invalidInputf("start price must be greater than 0")
	}
	if durationHours < minDurationHours {
		return 0, invalidInputf("duration must be at least %d hour", minDurationHours)
	}

	now := env.now()
	a := &Auction{
		ID:          s.NextAuctionID,
		Seller:      caller,
		NFTContract: nftContract,
		TokenID:     new(big.Int).Set(tokenID),
		StartPrice:  new(big.Int).Set(startPrice),
		CreatedAt:   now.Unix(),
		EndTime:     now.Unix() + int64(durationHours)*3600,
		HighestBid:  new(big.Int),
		Active:      true,
	}
	s.Auctions[a.ID] = a
	s.NextAuctionID++

	ev := newEvent(EventAuctionCreated, a.ID, now)
	ev.Seller = a.Seller
	ev.NFTContract = a.NFTContract
	ev.TokenID = cloneBig(a.TokenID)
	ev.StartPrice = cloneBig(a.StartPrice)
	ev.EndTime = a.EndTime
	env.emit(ev)

	nft, err := env.Resolver.NFT(nftContract)
	if err != nil {
		return 0, fmt.Errorf("resolve NFT contract %s: %w", nftContract.Hex(), err)
	}
	if err := nft.TransferFrom(caller, env.Self, tokenID); err != nil {
		return 0, fmt.Errorf("take custody of token %s: %w", tokenID, err)
	}
	return a.ID, nil
}

// PlaceBid records a native-currency bid. The tendered value must meet the
// start price on a first bid and strictly exceed the current leader
// otherwise; ties lose. The displaced leader's full amount is credited to
// the escrow ledger in the same step that records the new leader.
func (MarketV1) PlaceBid(s *State, env *Env, caller common.Address, auctionID uint64, value *big.Int) error {
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
	if value == nil || value.Sign() <= 0 {
		return invalidInputf("bid value must be greater than 0")
	}
	if a.hasBid() {
		if a.Currency != CurrencyETH {
			return statef("auction is denominated in %s", a.Currency)
		}
		if value.Cmp(a.HighestBid) <= 0 {
			return statef("there already is a higher or equal bid")
		}
		s.creditPending(auctionID, a.HighestBidder, a.HighestBid)
	} else if value.Cmp(a.StartPrice) < 0 {
		return statef("bid is below the start price")
	}

	a.HighestBid = new(big.Int).Set(value)
	a.HighestBidder = caller
	a.Currency = CurrencyETH

	ev := newEvent(EventBidPlaced, auctionID, now)
	ev.Bidder = caller
	ev.Amount = cloneBig(value)
	ev.Currency = CurrencyETH
	env.emit(ev)
	return nil
}

// Settlement reports the outcome of a settled auction: who won, the amount
// and fee actually applied, and when. A bidless auction settles with a zero
// winner and zero amounts.
type Settlement struct {
	AuctionID uint64
	Seller    common.Address
	Winner    common.Address
	Amount    *big.Int
	Fee       *big.Int
	Currency  Currency
	SettledAt int64
}

// EndAuction settles an expired auction. Anyone may call it once the
// deadline has passed. The seller's proceeds and the platform fee are
// credited to the escrow ledger for pull-withdrawal, exactly like outbid
// refunds, so the asset transfer is the operation's only external call and
// runs last: a failure there rolls the whole settlement back with nothing
// half-paid, and a retry starts clean.
func (MarketV1) EndAuction(s *State, env *Env, caller common.Address, auctionID uint64) (Settlement, error) {
	a, ok := s.Auctions[auctionID]
	if !ok {
		return Settlement{}, statef("auction %d does not exist", auctionID)
	}
	if !a.Active {
		return Settlement{}, statef("auction already ended")
	}
	now := env.now()
	if now.Unix() < a.EndTime {
		return Settlement{}, statef("auction has not ended yet")
	}

	a.Active = false

	st := Settlement{
		AuctionID: auctionID,
		Seller:    a.Seller,
		Winner:    a.HighestBidder,
		Amount:    cloneBig(a.HighestBid),
		Fee:       new(big.Int),
		Currency:  a.Currency,
		SettledAt: now.Unix(),
	}

	if a.hasBid() {
		fee, proceeds := splitProceeds(a.HighestBid, s.FeeBasisPoints)
		st.Fee = fee
		s.creditPending(auctionID, a.Seller, proceeds)
		if fee.Sign() > 0 {
			s.creditPending(auctionID, s.FeeRecipient, fee)
		}
	}

	ev := newEvent(EventAuctionEnded, auctionID, now)
	ev.Winner = a.HighestBidder
	ev.Amount = cloneBig(a.HighestBid)
	ev.Currency = a.Currency
	env.emit(ev)

	nft, err := env.Resolver.NFT(a.NFTContract)
	if err != nil {
		return Settlement{}, fmt.Errorf("resolve NFT contract %s: %w", a.NFTContract.Hex(), err)
	}
	// The asset goes to the winner, or back to the seller when no bid was
	// ever placed.
	recipient := a.HighestBidder
	if !a.hasBid() {
		recipient = a.Seller
	}
	if err := nft.TransferFrom(env.Self, recipient, a.TokenID); err != nil {
		return Settlement{}, fmt.Errorf("transfer token %s to %s: %w", a.TokenID, recipient.Hex(), err)
	}
	return st, nil
}

// splitProceeds divides a winning bid into the platform fee and the
// seller's share. Integer division: the fee keeps the floor, the seller
// gets the rest, and the two always sum to the full amount.
func splitProceeds(amount *big.Int, feeBasisPoints uint64) (fee, proceeds *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(feeBasisPoints))
	fee.Div(fee, big.NewInt(basisPointDenominator))
	proceeds = new(big.Int).Sub(amount, fee)
	return fee, proceeds
}
