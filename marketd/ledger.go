package main

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/nftmarket/core"
)

// The types below stand in for the external chain contracts when marketd
// runs standalone: they record asset and value movements but leave real
// ownership, approval and sufficiency enforcement to the actual contracts
// they model. State only ever stores addresses; these bindings are resolved
// per address on first use.

type localResolver struct {
	mu     sync.Mutex
	nfts   map[common.Address]*localNFT
	tokens map[common.Address]*localToken
	rate   decimal.Decimal
}

func newLocalResolver() *localResolver {
	rate := decimal.NewFromInt(2000)
	if v := os.Getenv("MARKETD_ETH_USD_PRICE"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			rate = decimal.NewFromInt(parsed)
		}
	}
	return &localResolver{
		nfts:   make(map[common.Address]*localNFT),
		tokens: make(map[common.Address]*localToken),
		rate:   rate,
	}
}

func (r *localResolver) NFT(addr common.Address) (core.NFTContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nft, ok := r.nfts[addr]
	if !ok {
		nft = &localNFT{owners: make(map[string]common.Address)}
		r.nfts[addr] = nft
	}
	return nft, nil
}

func (r *localResolver) Token(addr common.Address) (core.FungibleToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[addr]
	if !ok {
		token = &localToken{self: addr, balances: make(map[common.Address]*big.Int)}
		r.tokens[addr] = token
	}
	return token, nil
}

func (r *localResolver) Feed(common.Address) (core.PriceFeed, error) {
	return staticFeed{rate: r.rate}, nil
}

// localNFT tracks token ownership per token id. The first transfer of an
// unknown token establishes its record.
type localNFT struct {
	mu     sync.Mutex
	owners map[string]common.Address
}

func (n *localNFT) OwnerOf(tokenID *big.Int) (common.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	owner, ok := n.owners[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %s", tokenID)
	}
	return owner, nil
}

func (n *localNFT) TransferFrom(from, to common.Address, tokenID *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := tokenID.String()
	owner, ok := n.owners[key]
	if ok && owner != from {
		return fmt.Errorf("token %s is owned by %s, not %s", tokenID, owner.Hex(), from.Hex())
	}
	n.owners[key] = to
	return nil
}

// localToken records fungible value movements. Balance sufficiency is the
// real token contract's concern; this stand-in only keeps the books.
type localToken struct {
	self     common.Address
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func (t *localToken) Transfer(to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	return nil
}

func (t *localToken) TransferFrom(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(from, new(big.Int).Neg(amount))
	t.credit(to, amount)
	return nil
}

func (t *localToken) credit(addr common.Address, amount *big.Int) {
	balance := t.balances[addr]
	if balance == nil {
		balance = new(big.Int)
	}
	t.balances[addr] = new(big.Int).Add(balance, amount)
}

type staticFeed struct {
	rate decimal.Decimal
}

func (f staticFeed) LatestPrice() (decimal.Decimal, error) {
	return f.rate, nil
}

// creditBank records native-value payouts per recipient.
type creditBank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func newCreditBank() *creditBank {
	return &creditBank{balances: make(map[common.Address]*big.Int)}
}

func (b *creditBank) Pay(to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	balance := b.balances[to]
	if balance == nil {
		balance = new(big.Int)
	}
	b.balances[to] = new(big.Int).Add(balance, amount)
	return nil
}

// paid reports the total native value paid out to an address.
func (b *creditBank) paid(to common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	balance := b.balances[to]
	if balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}
