package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestCreateAuction_AssignsTermsAndTakesCustody(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	m.nft.mint(addrSeller, tokenID)
	m.nft.approve(addrMarket, tokenID)

	created := m.clock
	id, err := m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, eth("0.05"), 24)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), id)

	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.Equal(t, addrSeller, a.Seller)
	check.Equal(t, addrNFT, a.NFTContract)
	check.Equal(t, 0, a.TokenID.Cmp(tokenID))
	check.Equal(t, 0, a.StartPrice.Cmp(eth("0.05")))
	check.True(t, a.Active)

	// endTime - creationTime == durationHours*3600 exactly
	check.Equal(t, created.Unix()+24*3600, a.EndTime)
	check.Equal(t, int64(24*3600), a.EndTime-a.CreatedAt)

	// The marketplace holds the asset for the active lifetime.
	owner, err := m.nft.OwnerOf(tokenID)
	assert.Nil(t, err)
	check.Equal(t, addrMarket, owner)

	ev := m.lastEvent(t)
	check.Equal(t, EventAuctionCreated, ev.Type)
	check.Equal(t, uint64(1), ev.AuctionID)
	check.Equal(t, addrSeller, ev.Seller)
	check.Equal(t, created.Unix()+24*3600, ev.EndTime)
}

func TestCreateAuction_SequentialIDs(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	first := m.listToken(t, big.NewInt(1), eth("0.05"))
	second := m.listToken(t, big.NewInt(2), eth("0.02"))
	check.Equal(t, uint64(1), first)
	check.Equal(t, uint64(2), second)
}

func TestCreateAuction_InvalidInput(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	m.nft.mint(addrSeller, tokenID)
	m.nft.approve(addrMarket, tokenID)

	_, err := m.proxy.CreateAuction(addrSeller, common.Address{}, tokenID, eth("0.05"), 24)
	check.True(t, errorIs(err, ErrInvalidInput))

	_, err = m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, big.NewInt(0), 24)
	check.True(t, errorIs(err, ErrInvalidInput))

	_, err = m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, eth("0.05"), 0)
	check.True(t, errorIs(err, ErrInvalidInput))

	// Nothing was created and no event escaped.
	check.Equal(t, 0, len(m.proxy.GetActiveAuctions()))
	check.Equal(t, 0, len(m.events))

	_, err = m.proxy.GetAuction(1)
	check.True(t, errorIs(err, ErrNotFound))
}

func TestCreateAuction_CustodyFailureRollsBack(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	m.nft.mint(addrSeller, tokenID)
	// No approval: the custody transfer must fail and the registry stay empty.

	_, err := m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, eth("0.05"), 24)
	assert.NotNil(t, err)
	check.Equal(t, 0, len(m.proxy.GetActiveAuctions()))
	check.Equal(t, 0, len(m.events))

	// The id was not burned by the failed attempt.
	m.nft.approve(addrMarket, tokenID)
	id, err := m.proxy.CreateAuction(addrSeller, addrNFT, tokenID, eth("0.05"), 24)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), id)
}

func TestPlaceBid_StrictGreaterRule(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	id := m.listToken(t, big.NewInt(1), eth("0.05"))

	// First bid may equal the start price but not undercut it.
	err := m.proxy.PlaceBid(addrBidder1, id, eth("0.04"))
	check.True(t, errorIs(err, ErrState))

	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.05")))

	// Ties are rejected.
	err = m.proxy.PlaceBid(addrBidder2, id, eth("0.05"))
	check.True(t, errorIs(err, ErrState))

	assert.Nil(t, m.proxy.PlaceBid(addrBidder2, id, eth("0.06")))

	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.Equal(t, 0, a.HighestBid.Cmp(eth("0.06")))
	check.Equal(t, addrBidder2, a.HighestBidder)

	// The displaced leader's full amount became withdrawable.
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrBidder1).Cmp(eth("0.05")))
}

func TestPlaceBid_UnknownInactiveOrExpired(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	id := m.listToken(t, big.NewInt(1), eth("0.05"))

	err := m.proxy.PlaceBid(addrBidder1, 99, eth("0.06"))
	check.True(t, errorIs(err, ErrState))

	// currentTime >= endTime rejects, exactly at the boundary too.
	m.advance(24 * time.Hour)
	err = m.proxy.PlaceBid(addrBidder1, id, eth("0.06"))
	check.True(t, errorIs(err, ErrState))

	_, err = m.proxy.EndAuction(addrBidder3, id)
	assert.Nil(t, err)
	err = m.proxy.PlaceBid(addrBidder1, id, eth("0.06"))
	check.True(t, errorIs(err, ErrState))
}

func TestEndAuction_SettlesToWinner(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	id := m.listToken(t, tokenID, eth("0.05"))

	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.06")))
	assert.Nil(t, m.proxy.PlaceBid(addrBidder2, id, eth("0.07")))

	// Too early.
	_, err := m.proxy.EndAuction(addrBidder3, id)
	check.True(t, errorIs(err, ErrState))

	m.advance(24*time.Hour + time.Second)
	st, err := m.proxy.EndAuction(addrBidder3, id)
	assert.Nil(t, err)

	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.False(t, a.Active)

	owner, err := m.nft.OwnerOf(tokenID)
	assert.Nil(t, err)
	check.Equal(t, addrBidder2, owner)

	// sellerShare + feeShare == highestBid exactly, fee at 200 bp; both are
	// credited for pull-withdrawal.
	fee := new(big.Int).Div(new(big.Int).Mul(eth("0.07"), big.NewInt(200)), big.NewInt(10000))
	proceeds := new(big.Int).Sub(eth("0.07"), fee)
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrSeller).Cmp(proceeds))
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrFeeRecipient).Cmp(fee))
	check.Equal(t, addrBidder2, st.Winner)
	check.Equal(t, 0, st.Amount.Cmp(eth("0.07")))
	check.Equal(t, 0, st.Fee.Cmp(fee))

	assert.Nil(t, m.proxy.WithdrawBid(addrSeller, id))
	assert.Nil(t, m.proxy.WithdrawBid(addrFeeRecipient, id))
	check.Equal(t, 0, m.bank.paid(addrSeller).Cmp(proceeds))
	check.Equal(t, 0, m.bank.paid(addrFeeRecipient).Cmp(fee))
	check.Equal(t, 0, new(big.Int).Add(m.bank.paid(addrSeller), m.bank.paid(addrFeeRecipient)).Cmp(eth("0.07")))

	ev := m.lastEvent(t)
	check.Equal(t, EventAuctionEnded, ev.Type)
	check.Equal(t, addrBidder2, ev.Winner)
	check.Equal(t, 0, ev.Amount.Cmp(eth("0.07")))

	// Re-invocation fails; active never flips back.
	_, err = m.proxy.EndAuction(addrBidder3, id)
	check.True(t, errorIs(err, ErrState))
}

func TestEndAuction_NoBidsReturnsAssetToSeller(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(7)
	id := m.listToken(t, tokenID, eth("0.05"))

	m.advance(25 * time.Hour)
	st, err := m.proxy.EndAuction(addrBidder1, id)
	assert.Nil(t, err)
	check.Equal(t, common.Address{}, st.Winner)
	check.Equal(t, 0, st.Amount.Sign())
	check.Equal(t, 0, st.Fee.Sign())

	owner, err := m.nft.OwnerOf(tokenID)
	assert.Nil(t, err)
	check.Equal(t, addrSeller, owner)

	// No credits and no refunds for a bidless auction.
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrSeller).Sign())
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrFeeRecipient).Sign())

	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.False(t, a.Active)
}

func TestEndAuction_TransferFailureRollsBack(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	id := m.listToken(t, big.NewInt(1), eth("0.05"))
	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.06")))

	m.advance(25 * time.Hour)
	m.nft.failNext = true
	_, err := m.proxy.EndAuction(addrBidder2, id)
	assert.NotNil(t, err)

	// The auction is still active, the failed attempt credited nothing,
	// and a retry settles cleanly.
	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.True(t, a.Active)
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrSeller).Sign())
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrFeeRecipient).Sign())

	_, err = m.proxy.EndAuction(addrBidder2, id)
	assert.Nil(t, err)
	a, err = m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.False(t, a.Active)
}

// A payout failure after settlement must never strand the auction: the
// asset transfer is the settlement's only external call, and the proceeds
// sit in the ledger until each party pulls them, so a broken payment path
// affects nothing but that party's own retry.
func TestEndAuction_PayoutFailureCannotStrandSettlement(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	id := m.listToken(t, tokenID, eth("0.05"))
	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.06")))

	m.advance(25 * time.Hour)
	m.bank.failNext = true
	_, err := m.proxy.EndAuction(addrBidder2, id)
	assert.Nil(t, err)

	// Settlement completed despite the broken payment path: the winner
	// holds the asset and the auction is closed for good.
	owner, err := m.nft.OwnerOf(tokenID)
	assert.Nil(t, err)
	check.Equal(t, addrBidder1, owner)
	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.False(t, a.Active)

	// The seller's first withdrawal hits the failure, keeps the balance,
	// and succeeds on retry.
	fee := new(big.Int).Div(new(big.Int).Mul(eth("0.06"), big.NewInt(200)), big.NewInt(10000))
	proceeds := new(big.Int).Sub(eth("0.06"), fee)
	err = m.proxy.WithdrawBid(addrSeller, id)
	assert.NotNil(t, err)
	check.Equal(t, 0, m.proxy.PendingRefund(id, addrSeller).Cmp(proceeds))

	assert.Nil(t, m.proxy.WithdrawBid(addrSeller, id))
	assert.Nil(t, m.proxy.WithdrawBid(addrFeeRecipient, id))
	check.Equal(t, 0, m.bank.paid(addrSeller).Cmp(proceeds))
	check.Equal(t, 0, m.bank.paid(addrFeeRecipient).Cmp(fee))
}

func TestGetActiveAuctions_AscendingAndLive(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	first := m.listToken(t, big.NewInt(1), eth("0.05"))
	second := m.listToken(t, big.NewInt(2), eth("0.02"))
	third := m.listToken(t, big.NewInt(3), eth("0.01"))

	check.Equal(t, []uint64{first, second, third}, m.proxy.GetActiveAuctions())

	m.advance(25 * time.Hour)
	_, err := m.proxy.EndAuction(addrBidder1, second)
	assert.Nil(t, err)

	check.Equal(t, []uint64{first, third}, m.proxy.GetActiveAuctions())
}

// Scenario from the platform's reference behavior: 0.05 start, 24h, bids
// 0.06 and 0.07, a late 0.065 and a post-deadline bid both rejected,
// settlement pays the 0.07 winner's seller and fee recipient, and the 0.06
// bidder withdraws exactly 0.06.
func TestAuctionLifecycle_FullScenario(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	tokenID := big.NewInt(1)
	id := m.listToken(t, tokenID, eth("0.05"))

	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.06")))
	assert.Nil(t, m.proxy.PlaceBid(addrBidder2, id, eth("0.07")))

	err := m.proxy.PlaceBid(addrBidder3, id, eth("0.065"))
	check.True(t, errorIs(err, ErrState))

	m.advance(24*time.Hour + 5*time.Second)
	err = m.proxy.PlaceBid(addrBidder2, id, eth("0.08"))
	check.True(t, errorIs(err, ErrState))

	_, err = m.proxy.EndAuction(addrBidder2, id)
	assert.Nil(t, err)

	owner, err := m.nft.OwnerOf(tokenID)
	assert.Nil(t, err)
	check.Equal(t, addrBidder2, owner)

	fee := new(big.Int).Div(new(big.Int).Mul(eth("0.07"), big.NewInt(200)), big.NewInt(10000))
	assert.Nil(t, m.proxy.WithdrawBid(addrSeller, id))
	assert.Nil(t, m.proxy.WithdrawBid(addrFeeRecipient, id))
	check.Equal(t, 0, m.bank.paid(addrSeller).Cmp(new(big.Int).Sub(eth("0.07"), fee)))
	check.Equal(t, 0, m.bank.paid(addrFeeRecipient).Cmp(fee))

	assert.Nil(t, m.proxy.WithdrawBid(addrBidder1, id))
	check.Equal(t, 0, m.bank.paid(addrBidder1).Cmp(eth("0.06")))
}

func TestGetAuction_CopiesDoNotAliasState(t *testing.T) {
	m := newTestMarket(t, MarketV1{})
	id := m.listToken(t, big.NewInt(1), eth("0.05"))
	assert.Nil(t, m.proxy.PlaceBid(addrBidder1, id, eth("0.06")))

	a, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	a.HighestBid.SetInt64(0)

	fresh, err := m.proxy.GetAuction(id)
	assert.Nil(t, err)
	check.Equal(t, 0, fresh.HighestBid.Cmp(eth("0.06")))
}

func errorIs(err, target error) bool {
	return errors.Is(err, target)
}
