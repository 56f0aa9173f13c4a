// Package marketapi defines the wire types spoken by the market server.
// All requests share one envelope discriminated by Type; responses carry a
// Success flag and a human-readable Message, mirroring the error taxonomy
// with ErrorKind.
package marketapi

// Request types accepted by the market server.
const (
	TypePing               = "ping"
	TypeCreateAuction      = "create_auction"
	TypePlaceBid           = "place_bid"
	TypePlaceBidWithUSDC   = "place_bid_with_usdc"
	TypeEndAuction         = "end_auction"
	TypeWithdrawBid        = "withdraw_bid"
	TypeSetPlatformFee     = "set_platform_fee"
	TypeUpdateFeeRecipient = "update_fee_recipient"
	TypeGetAuction         = "get_auction"
	TypeGetActiveAuctions  = "get_active_auctions"
	TypeGetFee             = "get_fee"
	TypeGetBidCurrency     = "get_bid_currency"
	TypeUpgrade            = "upgrade"
	TypeInitializeV2       = "initialize_v2"
	TypeReceiptKey         = "receipt_key"
)

// Error kinds carried in failure responses.
const (
	ErrorKindInvalidInput = "invalid_input"
	ErrorKindState        = "state"
	ErrorKindNotFound     = "not_found"
	ErrorKindUnauthorized = "unauthorized"
	ErrorKindInternal     = "internal"
)

// Request is the envelope for every market operation. Monetary amounts are
// decimal strings (wei for Value/StartPrice, token units for Amount) so no
// precision is lost in JSON.
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Caller    string `json:"caller,omitempty"`

	// create_auction
	NFTContract   string `json:"nft_contract,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
	StartPrice    string `json:"start_price,omitempty"`
	DurationHours uint64 `json:"duration_hours,omitempty"`

	// place_bid / place_bid_with_usdc / end_auction / withdraw_bid / reads
	AuctionID uint64 `json:"auction_id,omitempty"`
	Value     string `json:"value,omitempty"`
	Amount    string `json:"amount,omitempty"`

	// fee administration
	FeeBasisPoints uint64 `json:"fee_basis_points,omitempty"`
	FeeRecipient   string `json:"fee_recipient,omitempty"`

	// upgrade / initialize_v2
	TargetVersion uint8  `json:"target_version,omitempty"`
	USDCToken     string `json:"usdc_token,omitempty"`
	PriceFeed     string `json:"price_feed,omitempty"`
}

// Response is embedded in every reply.
type Response struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Response
	Timestamp int64 `json:"timestamp"`
}

// AuctionView is the read-only projection of one auction record.
type AuctionView struct {
	ID            uint64 `json:"id"`
	Seller        string `json:"seller"`
	NFTContract   string `json:"nft_contract"`
	TokenID       string `json:"token_id"`
	StartPrice    string `json:"start_price"`
	CreatedAt     int64  `json:"created_at"`
	EndTime       int64  `json:"end_time"`
	HighestBid    string `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder"`
	Active        bool   `json:"active"`
	Currency      string `json:"currency"`
	USDCBid       string `json:"usdc_bid,omitempty"`
}

// CreateAuctionResponse reports the id assigned to a new auction.
type CreateAuctionResponse struct {
	Response
	AuctionID uint64 `json:"auction_id"`
}

// AuctionResponse answers get_auction.
type AuctionResponse struct {
	Response
	Auction *AuctionView `json:"auction,omitempty"`
}

// ActiveAuctionsResponse answers get_active_auctions; ids ascend.
type ActiveAuctionsResponse struct {
	Response
	AuctionIDs []uint64 `json:"auction_ids"`
}

// FeeResponse answers get_fee.
type FeeResponse struct {
	Response
	FeeBasisPoints uint64 `json:"fee_basis_points"`
	FeeRecipient   string `json:"fee_recipient"`
}

// BidCurrencyResponse answers get_bid_currency.
type BidCurrencyResponse struct {
	Response
	Currency string `json:"currency"`
	USDCBid  string `json:"usdc_bid"`
}

// SettlementResponse answers end_auction. The receipt is the base64 of a
// COSE_Sign1 envelope over a CBOR-encoded SettlementReceipt.
type SettlementResponse struct {
	Response
	Winner            string `json:"winner"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	ReceiptCOSEBase64 string `json:"receipt_cose_base64,omitempty"`
}

// ReceiptKeyResponse answers receipt_key with the PEM-encoded public key
// that verifies settlement receipts.
type ReceiptKeyResponse struct {
	Response
	PublicKeyPEM string `json:"public_key_pem"`
}

// SettlementReceipt is the CBOR payload signed into a settlement receipt.
// Verifiers decode it with ExtractReceiptPayload/VerifyReceipt from the
// validation package.
type SettlementReceipt struct {
	ReceiptID string `cbor:"receipt_id" json:"receipt_id"`
	AuctionID uint64 `cbor:"auction_id" json:"auction_id"`
	Seller    string `cbor:"seller" json:"seller"`
	Winner    string `cbor:"winner" json:"winner"`
	Amount    string `cbor:"amount" json:"amount"`
	Fee       string `cbor:"fee" json:"fee"`
	Currency  string `cbor:"currency" json:"currency"`
	SettledAt int64  `cbor:"settled_at" json:"settled_at"`
}
