package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/nftmarket/marketapi"
)

// ReceiptSigner signs settlement receipts as COSE_Sign1 envelopes so anyone
// holding the server's public key can verify a settlement out of process.
type ReceiptSigner struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	signer     cose.Signer
}

// NewReceiptSigner creates a ReceiptSigner with a fresh ECDSA P-256 key.
func NewReceiptSigner() (*ReceiptSigner, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}
	return &ReceiptSigner{
		privateKey: privateKey,
		signer:     signer,
	}, nil
}

// Sign encodes the receipt as CBOR, wraps it in a COSE_Sign1 envelope and
// returns the base64 of the signed bytes for JSON transport.
func (rs *ReceiptSigner) Sign(receipt marketapi.SettlementReceipt) (string, error) {
	payload, err := cbor.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("marshal receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, rs.signer); err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}

	signed, err := msg.MarshalCBOR()
	if err != nil {
		return "", fmt.Errorf("marshal COSE envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signed), nil
}

// PublicKeyPEM returns the verification key in PEM format
func (rs *ReceiptSigner) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(&rs.privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}
