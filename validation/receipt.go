// Package validation verifies settlement receipts out of process: anyone
// holding the market server's public key can check that a receipt was
// produced by that server and decode the settlement it attests to.
package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/nftmarket/marketapi"
)

// ParsePublicKeyPEM decodes the PEM-encoded ECDSA verification key
// published by the market server.
func ParsePublicKeyPEM(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, nil
}

// VerifyReceipt checks the COSE_Sign1 envelope signature against the
// server's public key and returns the decoded settlement receipt.
func VerifyReceipt(receiptB64 string, publicKeyPEM string) (*marketapi.SettlementReceipt, error) {
	coseBytes, err := base64.StdEncoding.DecodeString(receiptB64)
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	publicKey, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1 envelope: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}

	var receipt marketapi.SettlementReceipt
	if err := cbor.Unmarshal(msg.Payload, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &receipt, nil
}

// ExtractReceiptPayload pulls the payload out of a COSE_Sign1 envelope
// without verifying the signature, for inspection of untrusted receipts.
// COSE_Sign1 structure: [protected, unprotected, payload, signature].
func ExtractReceiptPayload(receiptB64 string) (*marketapi.SettlementReceipt, error) {
	coseBytes, err := base64.StdEncoding.DecodeString(receiptB64)
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1 envelope: %w", err)
	}

	var receipt marketapi.SettlementReceipt
	if err := cbor.Unmarshal(msg.Payload, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &receipt, nil
}
