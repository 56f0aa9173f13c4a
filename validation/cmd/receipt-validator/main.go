// receipt-validator verifies a settlement receipt produced by marketd
// against the server's published verification key and prints the decoded
// settlement as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cloudx-io/nftmarket/validation"
)

func main() {
	receiptPath := flag.String("receipt", "", "path to a file containing the base64 COSE receipt")
	keyPath := flag.String("key", "", "path to the server's PEM-encoded verification key")
	inspect := flag.Bool("inspect", false, "decode the payload without verifying the signature")
	flag.Parse()

	if *receiptPath == "" {
		log.Fatal("ERROR: -receipt is required")
	}

	receiptData, err := os.ReadFile(*receiptPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to read receipt: %v", err)
	}
	receiptB64 := strings.TrimSpace(string(receiptData))

	if *inspect {
		receipt, err := validation.ExtractReceiptPayload(receiptB64)
		if err != nil {
			log.Fatalf("ERROR: Failed to decode receipt: %v", err)
		}
		printJSON(receipt)
		fmt.Println("WARNING: signature NOT verified (-inspect)")
		return
	}

	if *keyPath == "" {
		log.Fatal("ERROR: -key is required (or pass -inspect)")
	}
	keyData, err := os.ReadFile(*keyPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to read key: %v", err)
	}

	receipt, err := validation.VerifyReceipt(receiptB64, string(keyData))
	if err != nil {
		log.Fatalf("ERROR: Receipt verification failed: %v", err)
	}
	printJSON(receipt)
	fmt.Println("Receipt signature verified")
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("ERROR: Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
