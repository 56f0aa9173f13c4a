package core

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Logic is the operation surface of one logic generation. Methods receive
// the shared persistent State by reference so a logic swap touches no data.
type Logic interface {
	Version() uint8
	Initialize(s *State, env *Env, caller, feeRecipient common.Address) error
	CreateAuction(s *State, env *Env, caller, nftContract common.Address, tokenID, startPrice *big.Int, durationHours uint64) (uint64, error)
	PlaceBid(s *State, env *Env, caller common.Address, auctionID uint64, value *big.Int) error
	EndAuction(s *State, env *Env, caller common.Address, auctionID uint64) (Settlement, error)
	WithdrawBid(s *State, env *Env, caller common.Address, auctionID uint64) error
	SetPlatformFee(s *State, caller common.Address, newBasisPoints uint64) error
	UpdateFeeRecipient(s *State, caller, newRecipient common.Address) error
}

// CurrencyLogic is implemented by generations that carry the currency
// adapter. The proxy discovers it by type assertion, the Go analogue of a
// function selector that only exists after the upgrade.
type CurrencyLogic interface {
	InitializeV2(s *State, env *Env, caller, usdcToken, priceFeed common.Address) error
	PlaceBidWithUSDC(s *State, env *Env, caller common.Address, auctionID uint64, amount *big.Int) error
	GetBidCurrency(s *State, auctionID uint64) (Currency, error)
	GetUSDCBid(s *State, auctionID uint64) (*big.Int, error)
}

// Proxy is the marketplace's fixed public identity. It owns the persistent
// State, delegates every operation to the currently installed Logic, and
// serializes operations so each one runs to completion alone.
//
// A mutating operation commits all of its effects or none: the proxy
// snapshots the state up front and restores it if the logic returns an
// error at any point, including from an external transfer.
type Proxy struct {
	mu    sync.Mutex
	state *State
	env   *Env
	logic Logic
}

// NewProxy creates a proxy with empty storage and the given first logic
// generation installed.
func NewProxy(logic Logic, env *Env) *Proxy {
	return &Proxy{
		state: NewState(),
		env:   env,
		logic: logic,
	}
}

// Version reports the installed logic generation.
func (p *Proxy) Version() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logic.Version()
}

// Upgrade swaps the executable logic behind the proxy. Administrator only;
// generations move forward only. Storage is untouched: new fields start at
// their zero values until the new generation's initializer runs.
func (p *Proxy) Upgrade(caller common.Address, next Logic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if next == nil {
		return invalidInputf("nil logic")
	}
	if caller != p.state.Admin {
		return unauthorized(caller, "upgrade the marketplace logic")
	}
	if next.Version() <= p.logic.Version() {
		return statef("logic generation %d is not newer than installed generation %d", next.Version(), p.logic.Version())
	}
	p.logic = next
	return nil
}

// run executes one mutating operation atomically: on any error the
// pre-operation snapshot is restored and buffered events are dropped.
func (p *Proxy) run(op func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, err := p.state.Snapshot()
	if err != nil {
		return err
	}
	if err := op(); err != nil {
		p.env.flush(false)
		return errors.Join(err, p.state.Restore(snap))
	}
	p.env.flush(true)
	return nil
}

func (p *Proxy) currencyLogic() (CurrencyLogic, error) {
	cl, ok := p.logic.(CurrencyLogic)
	if !ok {
		return nil, statef("operation is not supported by logic generation %d", p.logic.Version())
	}
	return cl, nil
}

// Initialize runs the generation-one setup. Callable exactly once.
func (p *Proxy) Initialize(caller, feeRecipient common.Address) error {
	return p.run(func() error {
		return p.logic.Initialize(p.state, p.env, caller, feeRecipient)
	})
}

// InitializeV2 runs the currency adapter's one-time setup. Callable exactly
// once, and only on a generation that carries the adapter.
func (p *Proxy) InitializeV2(caller, usdcToken, priceFeed common.Address) error {
	return p.run(func() error {
		cl, err := p.currencyLogic()
		if err != nil {
			return err
		}
		return cl.InitializeV2(p.state, p.env, caller, usdcToken, priceFeed)
	})
}

// CreateAuction registers an auction and returns its id.
func (p *Proxy) CreateAuction(caller, nftContract common.Address, tokenID, startPrice *big.Int, durationHours uint64) (uint64, error) {
	var id uint64
	err := p.run(func() error {
		var opErr error
		id, opErr = p.logic.CreateAuction(p.state, p.env, caller, nftContract, tokenID, startPrice, durationHours)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PlaceBid records a native-currency bid of the given value.
func (p *Proxy) PlaceBid(caller common.Address, auctionID uint64, value *big.Int) error {
	return p.run(func() error {
		return p.logic.PlaceBid(p.state, p.env, caller, auctionID, value)
	})
}

// PlaceBidWithUSDC records a USDC bid. Generation two and later only.
func (p *Proxy) PlaceBidWithUSDC(caller common.Address, auctionID uint64, amount *big.Int) error {
	return p.run(func() error {
		cl, err := p.currencyLogic()
		if err != nil {
			return err
		}
		return cl.PlaceBidWithUSDC(p.state, p.env, caller, auctionID, amount)
	})
}

// EndAuction settles an expired auction and reports the settlement. The
// amount, fee and timestamp are taken inside the serialized operation, so
// they always describe what was actually applied.
func (p *Proxy) EndAuction(caller common.Address, auctionID uint64) (Settlement, error) {
	var st Settlement
	err := p.run(func() error {
		var opErr error
		st, opErr = p.logic.EndAuction(p.state, p.env, caller, auctionID)
		return opErr
	})
	if err != nil {
		return Settlement{}, err
	}
	return st, nil
}

// WithdrawBid pays out the caller's pending refund for one auction.
func (p *Proxy) WithdrawBid(caller common.Address, auctionID uint64) error {
	return p.run(func() error {
		return p.logic.WithdrawBid(p.state, p.env, caller, auctionID)
	})
}

// SetPlatformFee changes the fee rate. Administrator only.
func (p *Proxy) SetPlatformFee(caller common.Address, newBasisPoints uint64) error {
	return p.run(func() error {
		return p.logic.SetPlatformFee(p.state, caller, newBasisPoints)
	})
}

// UpdateFeeRecipient changes the fee recipient. Administrator only.
func (p *Proxy) UpdateFeeRecipient(caller, newRecipient common.Address) error {
	return p.run(func() error {
		return p.logic.UpdateFeeRecipient(p.state, caller, newRecipient)
	})
}

// GetAuction returns a copy of the auction record.
func (p *Proxy) GetAuction(auctionID uint64) (Auction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.state.Auctions[auctionID]
	if !ok {
		return Auction{}, notFoundf("auction %d", auctionID)
	}
	return a.Clone(), nil
}

// GetActiveAuctions returns the ids of currently active auctions in
// ascending order, reflecting the instant of the call.
func (p *Proxy) GetActiveAuctions() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.activeAuctionIDs()
}

// PlatformFee returns the current fee rate in basis points.
func (p *Proxy) PlatformFee() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.FeeBasisPoints
}

// FeeRecipient returns the current fee recipient.
func (p *Proxy) FeeRecipient() common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.FeeRecipient
}

// PendingRefund returns the amount withdrawable by a party on an auction:
// outbid refunds, and after settlement the seller's proceeds and the fee.
func (p *Proxy) PendingRefund(auctionID uint64, party common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, ok := p.state.PendingRefunds[auctionID][party]
	if !ok {
		return new(big.Int)
	}
	return cloneBig(amount)
}

// GetBidCurrency reports the leading bid's currency. Generation two only.
func (p *Proxy) GetBidCurrency(auctionID uint64) (Currency, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cl, err := p.currencyLogic()
	if err != nil {
		return CurrencyETH, err
	}
	return cl.GetBidCurrency(p.state, auctionID)
}

// GetUSDCBid returns the leading bid's USDC amount. Generation two only.
func (p *Proxy) GetUSDCBid(auctionID uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cl, err := p.currencyLogic()
	if err != nil {
		return nil, err
	}
	return cl.GetUSDCBid(p.state, auctionID)
}

// Snapshot returns the CBOR image of the persistent state, suitable for
// durable storage and for reload by any later logic generation.
func (p *Proxy) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Snapshot()
}

// Restore replaces the persistent state from a snapshot image.
func (p *Proxy) Restore(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Restore(data)
}
