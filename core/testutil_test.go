package core

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	addrAdmin        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	addrFeeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	addrSeller       = common.HexToAddress("0x0000000000000000000000000000000000000051")
	addrBidder1      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	addrBidder2      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	addrBidder3      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	addrMarket       = common.HexToAddress("0x000000000000000000000000000000000000004d")
	addrNFT          = common.HexToAddress("0x0000000000000000000000000000000000000071")
	addrUSDC         = common.HexToAddress("0x0000000000000000000000000000000000000072")
	addrFeed         = common.HexToAddress("0x0000000000000000000000000000000000000073")
)

// eth converts an ether amount like "0.05" to wei.
func eth(v string) *big.Int {
	return decimal.RequireFromString(v).Shift(18).BigInt()
}

// usdc converts a USDC amount like "100" to 6-decimal token units.
func usdc(v string) *big.Int {
	return decimal.RequireFromString(v).Shift(6).BigInt()
}

// fakeNFT is an in-memory ERC-721 stand-in with approval checks: pulling a
// token out of someone else's wallet requires a prior approval to the
// receiving custodian; the custodian moves its own holdings freely.
type fakeNFT struct {
	custodian common.Address
	owners    map[string]common.Address
	approvals map[string]common.Address
	failNext  bool
}

func newFakeNFT(custodian common.Address) *fakeNFT {
	return &fakeNFT{
		custodian: custodian,
		owners:    make(map[string]common.Address),
		approvals: make(map[string]common.Address),
	}
}

func (n *fakeNFT) mint(owner common.Address, tokenID *big.Int) {
	n.owners[tokenID.String()] = owner
}

func (n *fakeNFT) approve(operator common.Address, tokenID *big.Int) {
	n.approvals[tokenID.String()] = operator
}

func (n *fakeNFT) OwnerOf(tokenID *big.Int) (common.Address, error) {
	owner, ok := n.owners[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %s", tokenID)
	}
	return owner, nil
}

func (n *fakeNFT) TransferFrom(from, to common.Address, tokenID *big.Int) error {
	if n.failNext {
		n.failNext = false
		return fmt.Errorf("transfer rejected")
	}
	key := tokenID.String()
	owner, ok := n.owners[key]
	if !ok {
		return fmt.Errorf("unknown token %s", tokenID)
	}
	if owner != from {
		return fmt.Errorf("token %s is owned by %s, not %s", tokenID, owner.Hex(), from.Hex())
	}
	if from != n.custodian && n.approvals[key] != to {
		return fmt.Errorf("token %s is not approved for %s", tokenID, to.Hex())
	}
	delete(n.approvals, key)
	n.owners[key] = to
	return nil
}

// fakeBank records native payouts and optionally misbehaves: failNext makes
// the next payment fail, onPay runs a callback before the payment lands
// (the re-entrancy hook).
type fakeBank struct {
	balances map[common.Address]*big.Int
	failNext bool
	onPay    func(to common.Address, amount *big.Int)
}

func newFakeBank() *fakeBank {
	return &fakeBank{balances: make(map[common.Address]*big.Int)}
}

func (b *fakeBank) Pay(to common.Address, amount *big.Int) error {
	if b.failNext {
		b.failNext = false
		return fmt.Errorf("payment rejected")
	}
	if b.onPay != nil {
		hook := b.onPay
		b.onPay = nil
		hook(to, amount)
	}
	balance := b.balances[to]
	if balance == nil {
		balance = new(big.Int)
	}
	b.balances[to] = new(big.Int).Add(balance, amount)
	return nil
}

func (b *fakeBank) paid(to common.Address) *big.Int {
	balance := b.balances[to]
	if balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// fakeToken is an in-memory ERC-20 stand-in with balances and allowances.
// The marketplace is the only spender, so allowances are keyed by owner.
type fakeToken struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
	}
}

func (t *fakeToken) mint(owner common.Address, amount *big.Int) {
	t.credit(owner, amount)
}

func (t *fakeToken) approve(owner common.Address, amount *big.Int) {
	t.allowances[owner] = new(big.Int).Set(amount)
}

func (t *fakeToken) balanceOf(owner common.Address) *big.Int {
	balance := t.balances[owner]
	if balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

func (t *fakeToken) credit(owner common.Address, amount *big.Int) {
	balance := t.balances[owner]
	if balance == nil {
		balance = new(big.Int)
	}
	t.balances[owner] = new(big.Int).Add(balance, amount)
}

func (t *fakeToken) Transfer(to common.Address, amount *big.Int) error {
	t.credit(to, amount)
	return nil
}

func (t *fakeToken) TransferFrom(from, to common.Address, amount *big.Int) error {
	allowance := t.allowances[from]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("allowance of %s is below %s", from.Hex(), amount)
	}
	if t.balanceOf(from).Cmp(amount) < 0 {
		return fmt.Errorf("balance of %s is below %s", from.Hex(), amount)
	}
	t.allowances[from] = new(big.Int).Sub(allowance, amount)
	t.credit(from, new(big.Int).Neg(amount))
	t.credit(to, amount)
	return nil
}

type fakeFeed struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeFeed) LatestPrice() (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}

type fakeResolver struct {
	nft   *fakeNFT
	token *fakeToken
	feed  *fakeFeed
}

func (r *fakeResolver) NFT(common.Address) (NFTContract, error)     { return r.nft, nil }
func (r *fakeResolver) Token(common.Address) (FungibleToken, error) { return r.token, nil }
func (r *fakeResolver) Feed(common.Address) (PriceFeed, error)      { return r.feed, nil }

// testMarket wires a proxy to fakes with a controllable clock.
type testMarket struct {
	proxy  *Proxy
	env    *Env
	nft    *fakeNFT
	bank   *fakeBank
	token  *fakeToken
	feed   *fakeFeed
	clock  time.Time
	events []Event
}

func newTestMarket(t *testing.T, logic Logic) *testMarket {
	t.Helper()
	m := &testMarket{
		nft:   newFakeNFT(addrMarket),
		bank:  newFakeBank(),
		token: newFakeToken(),
		feed:  &fakeFeed{rate: decimal.NewFromInt(2000)},
		clock: time.Unix(1_700_000_000, 0),
	}
	m.env = &Env{
		Self:     addrMarket,
		Resolver: &fakeResolver{nft: m.nft, token: m.token, feed: m.feed},
		Bank:     m.bank,
		Now:      func() time.Time { return m.clock },
		Sink:     EventSinkFunc(func(ev Event) { m.events = append(m.events, ev) }),
	}
	m.proxy = NewProxy(logic, m.env)
	if err := m.proxy.Initialize(addrAdmin, addrFeeRecipient); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func (m *testMarket) advance(d time.Duration) {
	m.clock = m.clock.Add(d)
}

// listToken mints a token to the seller, approves the marketplace and
// creates a 24h auction at the given start price. Returns the auction id.
func (m *testMarket) listToken(t *testing.T, tokenID *big.Int, startPrice *big.Int) uint64 {
	t.Helper()
	m.nft.mint(addrSeller, tokenID)
	m.nft.approve(addrMarket, tokenID)
	id, err := m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, startPrice, 24)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return id
}

func (m *testMarket) lastEvent(t *testing.T) Event {
	t.Helper()
	if len(m.events) == 0 {
		t.Fatal("no events recorded")
	}
	return m.events[len(m.events)-1]
}
