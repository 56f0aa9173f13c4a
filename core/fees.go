package core

import "github.com/ethereum/go-ethereum/common"

// SetPlatformFee changes the fee rate for all future settlements. Already
// settled auctions are unaffected. Administrator only; capped.
func (MarketV1) SetPlatformFee(s *State, caller common.Address, newBasisPoints uint64) error {
	if caller != s.Admin {
		return unauthorized(caller, "set the platform fee")
	}
	if newBasisPoints > maxFeeBasisPoints {
		return invalidInputf("fee too high: %d basis points exceeds the %d cap", newBasisPoints, maxFeeBasisPoints)
	}
	s.FeeBasisPoints = newBasisPoints
	return nil
}

// UpdateFeeRecipient changes where future platform fees are paid.
// Administrator only.
func (MarketV1) UpdateFeeRecipient(s *State, caller, newRecipient common.Address) error {
	if caller != s.Admin {
		return unauthorized(caller, "update the fee recipient")
	}
	if newRecipient == (common.Address{}) {
		return invalidInputf("fee recipient must not be the zero address")
	}
	s.FeeRecipient = newRecipient
	return nil
}
