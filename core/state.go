package core

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
)

// Auction holds one auction's immutable terms and mutable bidding state.
//
// The CBOR layout uses integer keys and is append-only: a field keeps its
// key forever, is never resized in place, and new generations may only add
// fields with higher keys. Keys 1-10 are the first-generation layout; keys
// 11+ were appended by the currency-adapter generation. Bytes written by an
// older generation must decode under every newer one with no field lost.
type Auction struct {
	ID            uint64         `cbor:"1,keyasint" json:"id"`
	Seller        common.Address `cbor:"2,keyasint" json:"seller"`
	NFTContract   common.Address `cbor:"3,keyasint" json:"nft_contract"`
	TokenID       *big.Int       `cbor:"4,keyasint" json:"token_id"`
	StartPrice    *big.Int       `cbor:"5,keyasint" json:"start_price"`
	CreatedAt     int64          `cbor:"6,keyasint" json:"created_at"`
	EndTime       int64          `cbor:"7,keyasint" json:"end_time"`
	HighestBid    *big.Int       `cbor:"8,keyasint" json:"highest_bid"`
	HighestBidder common.Address `cbor:"9,keyasint" json:"highest_bidder"`
	Active        bool           `cbor:"10,keyasint" json:"active"`

	// Appended by the currency-adapter generation.
	Currency Currency `cbor:"11,keyasint" json:"currency"`
	USDCBid  *big.Int `cbor:"12,keyasint" json:"usdc_bid,omitempty"`
}

// hasBid reports whether any bid has been accepted.
func (a *Auction) hasBid() bool {
	return a.HighestBidder != (common.Address{})
}

// Clone deep-copies the auction so read access never aliases live state.
func (a *Auction) Clone() Auction {
	c := *a
	c.TokenID = cloneBig(a.TokenID)
	c.StartPrice = cloneBig(a.StartPrice)
	c.HighestBid = cloneBig(a.HighestBid)
	c.USDCBid = cloneBig(a.USDCBid)
	return c
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// State is the single persistent structure shared by every logic
// generation. Same append-only integer-key discipline as Auction: keys 1-7
// belong to generation one, keys 8+ are appended by later generations.
type State struct {
	InitializedVersion uint8                                  `cbor:"1,keyasint"`
	Admin              common.Address                         `cbor:"2,keyasint"`
	FeeRecipient       common.Address                         `cbor:"3,keyasint"`
	FeeBasisPoints     uint64                                 `cbor:"4,keyasint"`
	NextAuctionID      uint64                                 `cbor:"5,keyasint"`
	Auctions           map[uint64]*Auction                    `cbor:"6,keyasint"`
	PendingRefunds     map[uint64]map[common.Address]*big.Int `cbor:"7,keyasint"`

	// Appended by the currency-adapter generation.
	USDCToken common.Address `cbor:"8,keyasint"`
	PriceFeed common.Address `cbor:"9,keyasint"`
}

// NewState returns empty, uninitialized storage. Auction ids start at 1.
func NewState() *State {
	return &State{
		NextAuctionID:  1,
		Auctions:       make(map[uint64]*Auction),
		PendingRefunds: make(map[uint64]map[common.Address]*big.Int),
	}
}

// Snapshot serializes the state to its canonical CBOR image.
func (s *State) Snapshot() ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	return data, nil
}

// Restore replaces the state with a previously taken snapshot.
func (s *State) Restore(data []byte) error {
	var next State
	if err := cbor.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if next.Auctions == nil {
		next.Auctions = make(map[uint64]*Auction)
	}
	if next.PendingRefunds == nil {
		next.PendingRefunds = make(map[uint64]map[common.Address]*big.Int)
	}
	*s = next
	return nil
}

// activeAuctionIDs returns the ids of live auctions in ascending order,
// recomputed on each call.
func (s *State) activeAuctionIDs() []uint64 {
	ids := make([]uint64, 0, len(s.Auctions))
	for id, a := range s.Auctions {
		if a.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// creditPending records value owed to a party: a displaced leader's refund,
// or the seller's proceeds and the platform fee at settlement. Repeated
// credits for the same (auction, party) pair accumulate.
func (s *State) creditPending(auctionID uint64, party common.Address, amount *big.Int) {
	owed := s.PendingRefunds[auctionID]
	if owed == nil {
		owed = make(map[common.Address]*big.Int)
		s.PendingRefunds[auctionID] = owed
	}
	prev := owed[party]
	if prev == nil {
		prev = new(big.Int)
	}
	owed[party] = new(big.Int).Add(prev, amount)
}

// takePending zeroes and returns the pending balance for (auction, party).
// The balance is gone before any transfer executes, so a re-entrant second
// withdrawal finds nothing.
func (s *State) takePending(auctionID uint64, party common.Address) (*big.Int, bool) {
	owed := s.PendingRefunds[auctionID]
	amount, ok := owed[party]
	if !ok || amount.Sign() == 0 {
		return nil, false
	}
	delete(owed, party)
	if len(owed) == 0 {
		delete(s.PendingRefunds, auctionID)
	}
	return amount, true
}
