package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Currency identifies the unit a leading bid is denominated in.
type Currency uint8

const (
	CurrencyETH Currency = iota
	CurrencyUSDC
)

func (c Currency) String() string {
	switch c {
	case CurrencyETH:
		return "ETH"
	case CurrencyUSDC:
		return "USDC"
	default:
		return "unknown"
	}
}

const (
	weiDecimals  = 18 // native value scale
	usdcDecimals = 6  // alternate token scale
)

// NFTContract is the ERC-721-equivalent surface the marketplace consumes.
// Transfer semantics (ownership, prior approval) are assumed correct.
type NFTContract interface {
	OwnerOf(tokenID *big.Int) (common.Address, error)
	TransferFrom(from, to common.Address, tokenID *big.Int) error
}

// FungibleToken is the ERC-20-equivalent surface used for USDC settlement.
type FungibleToken interface {
	Transfer(to common.Address, amount *big.Int) error
	TransferFrom(from, to common.Address, amount *big.Int) error
}

// PriceFeed reads the current ETH/USD rate, e.g. 2000 means 1 ETH = $2000.
type PriceFeed interface {
	LatestPrice() (decimal.Decimal, error)
}

// Bank pays native value out of marketplace custody. Incoming native value
// rides on the call that carries it, so there is no deposit method.
type Bank interface {
	Pay(to common.Address, amount *big.Int) error
}

// ContractResolver maps a stored contract address back to a live binding.
// Persistent state holds addresses only.
type ContractResolver interface {
	NFT(addr common.Address) (NFTContract, error)
	Token(addr common.Address) (FungibleToken, error)
	Feed(addr common.Address) (PriceFeed, error)
}

// Env bundles the external collaborators an operation may touch. The same
// Env serves every logic generation; only persistent state is versioned.
type Env struct {
	// Self is the marketplace's own address, the custodian of every
	// asset under active auction.
	Self common.Address

	Resolver ContractResolver
	Bank     Bank

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	// Sink receives events from committed operations. Nil discards them.
	Sink EventSink

	pending []Event
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// emit buffers an event until the surrounding operation commits. Events
// from rolled-back operations are never delivered.
func (e *Env) emit(ev Event) {
	e.pending = append(e.pending, ev)
}

func (e *Env) flush(commit bool) {
	if commit && e.Sink != nil {
		for _, ev := range e.pending {
			e.Sink.Emit(ev)
		}
	}
	e.pending = e.pending[:0]
}
