package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cloudx-io/nftmarket/core"
	"github.com/cloudx-io/nftmarket/marketapi"
)

func (s *MarketServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	var req marketapi.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Printf("ERROR: Failed to decode request: %v", err)
		return
	}

	log.Printf("INFO: Received request type: %s", req.Type)

	response := s.dispatch(req)

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	} else {
		log.Printf("INFO: Successfully sent response for %s", req.Type)
	}
}

// dispatch executes one request against the market proxy and builds the
// typed response. Mutating operations persist the state image on success.
func (s *MarketServer) dispatch(req marketapi.Request) any {
	switch req.Type {
	case marketapi.TypePing:
		return marketapi.PongResponse{
			Response:  okResponse("pong", "market server is healthy"),
			Timestamp: time.Now().Unix(),
		}

	case marketapi.TypeCreateAuction:
		return s.handleCreateAuction(req)

	case marketapi.TypePlaceBid:
		return s.handlePlaceBid(req)

	case marketapi.TypePlaceBidWithUSDC:
		return s.handlePlaceBidWithUSDC(req)

	case marketapi.TypeEndAuction:
		return s.handleEndAuction(req)

	case marketapi.TypeWithdrawBid:
		return s.handleWithdrawBid(req)

	case marketapi.TypeSetPlatformFee:
		return s.handleSetPlatformFee(req)

	case marketapi.TypeUpdateFeeRecipient:
		return s.handleUpdateFeeRecipient(req)

	case marketapi.TypeGetAuction:
		return s.handleGetAuction(req)

	case marketapi.TypeGetActiveAuctions:
		return marketapi.ActiveAuctionsResponse{
			Response:   okResponse(req.Type, ""),
			AuctionIDs: s.proxy.GetActiveAuctions(),
		}

	case marketapi.TypeGetFee:
		return marketapi.FeeResponse{
			Response:       okResponse(req.Type, ""),
			FeeBasisPoints: s.proxy.PlatformFee(),
			FeeRecipient:   s.proxy.FeeRecipient().Hex(),
		}

	case marketapi.TypeGetBidCurrency:
		return s.handleGetBidCurrency(req)

	case marketapi.TypeUpgrade:
		return s.handleUpgrade(req)

	case marketapi.TypeInitializeV2:
		return s.handleInitializeV2(req)

	case marketapi.TypeReceiptKey:
		pem, err := s.signer.PublicKeyPEM()
		if err != nil {
			return errorResponse(req.Type, err)
		}
		return marketapi.ReceiptKeyResponse{
			Response:     okResponse(req.Type, ""),
			PublicKeyPEM: pem,
		}

	default:
		return errorResponse("error", fmt.Errorf("%w: unknown request type: %s", core.ErrInvalidInput, req.Type))
	}
}

func (s *MarketServer) handleCreateAuction(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	nftContract, err := parseAddress(req.NFTContract, "nft_contract")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	tokenID, err := parseAmount(req.TokenID, "token_id")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	startPrice, err := parseAmount(req.StartPrice, "start_price")
	if err != nil {
		return errorResponse(req.Type, err)
	}

	id, err := s.proxy.CreateAuction(caller, nftContract, tokenID, startPrice, req.DurationHours)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return marketapi.CreateAuctionResponse{
		Response:  okResponse(req.Type, ""),
		AuctionID: id,
	}
}

func (s *MarketServer) handlePlaceBid(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.PlaceBid(caller, req.AuctionID, value); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "bid placed")
}

func (s *MarketServer) handlePlaceBidWithUSDC(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.PlaceBidWithUSDC(caller, req.AuctionID, amount); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "bid placed")
}

func (s *MarketServer) handleEndAuction(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	settlement, err := s.proxy.EndAuction(caller, req.AuctionID)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()

	// The receipt attests exactly what the settlement applied: amount, fee
	// and timestamp come from the settled operation itself.
	receipt := marketapi.SettlementReceipt{
		ReceiptID: uuid.NewString(),
		AuctionID: settlement.AuctionID,
		Seller:    settlement.Seller.Hex(),
		Winner:    settlement.Winner.Hex(),
		Amount:    settlement.Amount.String(),
		Fee:       settlement.Fee.String(),
		Currency:  settlement.Currency.String(),
		SettledAt: settlement.SettledAt,
	}
	receiptB64, err := s.signer.Sign(receipt)
	if err != nil {
		log.Printf("ERROR: Failed to sign settlement receipt: %v", err)
		receiptB64 = ""
	}

	return marketapi.SettlementResponse{
		Response:          okResponse(req.Type, "auction settled"),
		Winner:            settlement.Winner.Hex(),
		Amount:            settlement.Amount.String(),
		Currency:          settlement.Currency.String(),
		ReceiptCOSEBase64: receiptB64,
	}
}

func (s *MarketServer) handleWithdrawBid(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.WithdrawBid(caller, req.AuctionID); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "refund withdrawn")
}

func (s *MarketServer) handleSetPlatformFee(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.SetPlatformFee(caller, req.FeeBasisPoints); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "platform fee updated")
}

func (s *MarketServer) handleUpdateFeeRecipient(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	recipient, err := parseAddress(req.FeeRecipient, "fee_recipient")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.UpdateFeeRecipient(caller, recipient); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "fee recipient updated")
}

func (s *MarketServer) handleGetAuction(req marketapi.Request) any {
	a, err := s.proxy.GetAuction(req.AuctionID)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return marketapi.AuctionResponse{
		Response: okResponse(req.Type, ""),
		Auction:  auctionView(a),
	}
}

func (s *MarketServer) handleGetBidCurrency(req marketapi.Request) any {
	currency, err := s.proxy.GetBidCurrency(req.AuctionID)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	usdcBid, err := s.proxy.GetUSDCBid(req.AuctionID)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return marketapi.BidCurrencyResponse{
		Response: okResponse(req.Type, ""),
		Currency: currency.String(),
		USDCBid:  usdcBid.String(),
	}
}

func (s *MarketServer) handleUpgrade(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if req.TargetVersion != core.Version2 {
		return errorResponse(req.Type, fmt.Errorf("%w: unknown logic generation %d", core.ErrInvalidInput, req.TargetVersion))
	}
	if err := s.proxy.Upgrade(caller, core.MarketV2{}); err != nil {
		return errorResponse(req.Type, err)
	}
	log.Printf("INFO: Logic upgraded to generation %d", req.TargetVersion)
	return okResponse(req.Type, "logic upgraded")
}

func (s *MarketServer) handleInitializeV2(req marketapi.Request) any {
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	usdcToken, err := parseAddress(req.USDCToken, "usdc_token")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	priceFeed, err := parseAddress(req.PriceFeed, "price_feed")
	if err != nil {
		return errorResponse(req.Type, err)
	}
	if err := s.proxy.InitializeV2(caller, usdcToken, priceFeed); err != nil {
		return errorResponse(req.Type, err)
	}
	s.persist()
	return okResponse(req.Type, "currency adapter initialized")
}

func okResponse(reqType, message string) marketapi.Response {
	return marketapi.Response{
		Type:    reqType + "_response",
		Success: true,
		Message: message,
	}
}

func errorResponse(reqType string, err error) marketapi.Response {
	return marketapi.Response{
		Type:      reqType + "_response",
		Success:   false,
		Message:   err.Error(),
		ErrorKind: errorKind(err),
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return marketapi.ErrorKindInvalidInput
	case errors.Is(err, core.ErrNotFound):
		return marketapi.ErrorKindNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return marketapi.ErrorKindUnauthorized
	case errors.Is(err, core.ErrState):
		return marketapi.ErrorKindState
	default:
		return marketapi.ErrorKindInternal
	}
}

func parseAddress(value, field string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address, got %q", core.ErrInvalidInput, field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(value, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal integer, got %q", core.ErrInvalidInput, field, value)
	}
	return amount, nil
}

func auctionView(a core.Auction) *marketapi.AuctionView {
	view := &marketapi.AuctionView{
		ID:            a.ID,
		Seller:        a.Seller.Hex(),
		NFTContract:   a.NFTContract.Hex(),
		TokenID:       a.TokenID.String(),
		StartPrice:    a.StartPrice.String(),
		CreatedAt:     a.CreatedAt,
		EndTime:       a.EndTime,
		HighestBid:    a.HighestBid.String(),
		HighestBidder: a.HighestBidder.Hex(),
		Active:        a.Active,
		Currency:      a.Currency.String(),
	}
	if a.USDCBid != nil {
		view.USDCBid = a.USDCBid.String()
	}
	return view
}
