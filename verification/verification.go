/*
# SGX DCAP Quote Verification

This package interprets the result of verifying an SGX DCAP quote inside an Occlum enclave.

The cryptographic verification itself is done by the Intel quote verification library
on the host, reached through the Occlum DCAP device (see package sgx).
This package decides what the returned status means:

  - Classify maps the raw status to Accepted, AcceptedWithWarning, or Rejected.

  - Verifier parses a quote, has it verified by the device, classifies the status,
    and optionally checks the enclave identity in the quote against a Policy.
*/
package verification

import (
	"context"
	"fmt"

	"github.com/edgelesssys/go-occlum-dcap/sgx"
	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"go.uber.org/zap"
)

// QuoteVerifier verifies raw quotes. It is implemented by [*sgx.Client].
type QuoteVerifier interface {
	VerifyQuote(ctx context.Context, rawQuote []byte) (sgx.VerifyResponse, error)
}

// Policy describes the expected identity of an enclave.
// Nil fields are not checked.
type Policy struct {
	MREnclave *types.Measurement
	MRSigner  *types.Measurement
	ProductID *uint16
	// MinVersion is the lowest accepted ISV SVN.
	MinVersion *uint16
	ReportData *types.ReportData
}

// Result is the outcome of a successful verification.
type Result struct {
	Quote   *types.Quote
	Verdict Verdict
	// CollateralExpired is set if the collateral used by the verification library has expired.
	CollateralExpired bool
	SupplementalData  []byte
}

// RejectedError is returned when the verification status is terminal.
type RejectedError struct {
	Status Status
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("quote verification rejected with status %s", e.Status)
}

// PolicyError is returned when a verified quote does not match the expected identity.
type PolicyError struct {
	Field string
	Want  string
	Got   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, got %s", e.Field, e.Want, e.Got)
}

// Verifier verifies SGX DCAP quotes.
type Verifier struct {
	client                 QuoteVerifier
	policy                 Policy
	requireFreshCollateral bool
	log                    *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger of the verifier.
func WithLogger(log *zap.Logger) Option {
	return func(v *Verifier) { v.log = log }
}

// WithPolicy makes the verifier check the enclave identity of verified quotes.
func WithPolicy(policy Policy) Option {
	return func(v *Verifier) { v.policy = policy }
}

// RequireFreshCollateral makes the verifier fail if the verification collateral has expired.
func RequireFreshCollateral() Option {
	return func(v *Verifier) { v.requireFreshCollateral = true }
}

// New creates a new Verifier.
func New(client QuoteVerifier, opts ...Option) *Verifier {
	v := &Verifier{
		client: client,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify verifies an SGX DCAP quote.
//
// A quote with a terminal status fails with [*RejectedError].
// A quote accepted with a warning is returned without error, the warning is logged
// and available in the result's verdict.
func (v *Verifier) Verify(ctx context.Context, rawQuote []byte) (*Result, error) {
	quote, resp, err := v.verify(ctx, rawQuote)
	if err != nil {
		return nil, err
	}

	verdict := Classify(Status(resp.Status))
	log := v.log.With(
		zap.Stringer("status", verdict.Status),
		zap.Stringer("mrenclave", quote.MREnclave()),
		zap.Stringer("mrsigner", quote.MRSigner()),
	)

	switch verdict.Outcome {
	case Rejected:
		log.Warn("Quote verification rejected")
		return nil, &RejectedError{Status: verdict.Status}
	case AcceptedWithWarning:
		log.Warn("Quote verified with warning, platform needs attention")
	}

	collateralExpired := resp.CollateralExpirationStatus != 0
	if collateralExpired {
		log.Warn("Quote verified with expired collateral")
		if v.requireFreshCollateral {
			return nil, &PolicyError{Field: "collateral", Want: "valid", Got: "expired"}
		}
	}

	if err := v.checkPolicy(quote); err != nil {
		return nil, fmt.Errorf("checking enclave identity: %w", err)
	}

	log.Debug("Quote verified", zap.Stringer("outcome", verdict.Outcome))
	return &Result{
		Quote:             quote,
		Verdict:           verdict,
		CollateralExpired: collateralExpired,
		SupplementalData:  resp.SupplementalData,
	}, nil
}

// Status verifies an SGX DCAP quote and returns the classified status.
// Unlike [*Verifier.Verify], a rejected quote is not an error and no policy is checked.
func (v *Verifier) Status(ctx context.Context, rawQuote []byte) (Verdict, error) {
	_, resp, err := v.verify(ctx, rawQuote)
	if err != nil {
		return Verdict{}, err
	}
	return Classify(Status(resp.Status)), nil
}

func (v *Verifier) verify(ctx context.Context, rawQuote []byte) (*types.Quote, sgx.VerifyResponse, error) {
	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return nil, sgx.VerifyResponse{}, fmt.Errorf("parsing SGX quote: %w", err)
	}
	resp, err := v.client.VerifyQuote(ctx, quote.Bytes())
	if err != nil {
		return nil, sgx.VerifyResponse{}, fmt.Errorf("verifying SGX quote: %w", err)
	}
	return quote, resp, nil
}

func (v *Verifier) checkPolicy(quote *types.Quote) error {
	p := v.policy
	if p.MREnclave != nil && quote.MREnclave() != *p.MREnclave {
		return &PolicyError{Field: "MRENCLAVE", Want: p.MREnclave.String(), Got: quote.MREnclave().String()}
	}
	if p.MRSigner != nil && quote.MRSigner() != *p.MRSigner {
		return &PolicyError{Field: "MRSIGNER", Want: p.MRSigner.String(), Got: quote.MRSigner().String()}
	}
	if p.ProductID != nil && quote.ProductID() != *p.ProductID {
		return &PolicyError{Field: "ISV product ID", Want: fmt.Sprint(*p.ProductID), Got: fmt.Sprint(quote.ProductID())}
	}
	if p.MinVersion != nil && quote.Version() < *p.MinVersion {
		return &PolicyError{Field: "ISV SVN", Want: fmt.Sprintf(">= %d", *p.MinVersion), Got: fmt.Sprint(quote.Version())}
	}
	if p.ReportData != nil && quote.ReportData() != *p.ReportData {
		return &PolicyError{Field: "report data", Want: p.ReportData.String(), Got: quote.ReportData().String()}
	}
	return nil
}
