package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminates marketplace events.
type EventType string

const (
	EventAuctionCreated EventType = "auction_created"
	EventBidPlaced      EventType = "bid_placed"
	EventAuctionEnded   EventType = "auction_ended"
)

// Event is a committed marketplace occurrence. Only the fields relevant to
// the event type are populated.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	AuctionID uint64    `json:"auction_id"`

	Seller      common.Address `json:"seller"`
	Bidder      common.Address `json:"bidder"`
	Winner      common.Address `json:"winner"`
	NFTContract common.Address `json:"nft_contract"`

	TokenID    *big.Int `json:"token_id,omitempty"`
	StartPrice *big.Int `json:"start_price,omitempty"`
	Amount     *big.Int `json:"amount,omitempty"`
	EndTime    int64    `json:"end_time,omitempty"`
	Currency   Currency `json:"currency"`

	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives events from committed operations.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }

func newEvent(t EventType, auctionID uint64, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		AuctionID: auctionID,
		Timestamp: at,
	}
}
