// Package blobs holds test fixtures for quote parsing and verification.
package blobs

import (
	"bytes"
	_ "embed"
)

var (
	//go:embed quote.raw
	sgxQuote []byte
)

// Expected values of the SGX DCAP quote returned by [SGXQuote].
const (
	// SGXQuoteMREnclave is the hex encoded MRENCLAVE of the fixture quote.
	SGXQuoteMREnclave = "9c90fd81f6e9fe64b46b14f0623523a52d6a5678482988c408f6adffe6301e2c"
	// SGXQuoteMRSigner is the hex encoded MRSIGNER of the fixture quote.
	SGXQuoteMRSigner = "6d5ead54bfbe9494e1cd9042bb7c25d74c597d4700e332b1b3168a60712c1e02"
	// SGXQuoteProductID is the ISV product ID of the fixture quote.
	SGXQuoteProductID = 4000
	// SGXQuoteVersion is the ISV SVN of the fixture quote.
	SGXQuoteVersion = 5000
	// SGXQuoteStatus is the raw verification status recorded for the fixture quote.
	// It is SGX_QL_QV_RESULT_SW_HARDENING_NEEDED, a non-terminal result.
	SGXQuoteStatus = 0xA007
)

// SGXQuote returns a copy of an SGX DCAP v3 quote with 64 zero bytes as report data.
// Header and report body match a quote produced by an Occlum enclave, the signature section is filler.
func SGXQuote() []byte {
	return bytes.Clone(sgxQuote)
}
