package main

import (
	"fmt"

	"github.com/edgelesssys/go-occlum-dcap/sgx"
	"github.com/edgelesssys/go-occlum-dcap/verification"
	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifyCmd(cfg *config) *cobra.Command {
	var (
		mrEnclave              string
		mrSigner               string
		productID              uint16
		minVersion             uint16
		reportDataText         string
		reportDataHex          string
		requireFreshCollateral bool
		statusOnly             bool
	)

	cmd := &cobra.Command{
		Use:   "verify <quote-file>",
		Short: "Verify a quote using the quote verification library of the host",
		Long: `Verify an SGX DCAP quote and check the identity of the quoted enclave.
Statuses that only need platform attention, like SW_HARDENING_NEEDED, are accepted with a warning.
The quote file holds a raw or hex encoded quote, "-" reads it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawQuote, err := readQuote(cmd, args[0])
			if err != nil {
				return err
			}

			var policy verification.Policy
			flags := cmd.Flags()
			if flags.Changed("mrenclave") {
				m, err := types.ParseMeasurement(mrEnclave)
				if err != nil {
					return fmt.Errorf("parsing --mrenclave: %w", err)
				}
				policy.MREnclave = &m
			}
			if flags.Changed("mrsigner") {
				m, err := types.ParseMeasurement(mrSigner)
				if err != nil {
					return fmt.Errorf("parsing --mrsigner: %w", err)
				}
				policy.MRSigner = &m
			}
			if flags.Changed("product-id") {
				policy.ProductID = &productID
			}
			if flags.Changed("min-version") {
				policy.MinVersion = &minVersion
			}
			if flags.Changed("report-data") || flags.Changed("report-data-hex") {
				reportData, err := parseReportData(reportDataText, reportDataHex)
				if err != nil {
					return err
				}
				policy.ReportData = &reportData
			}

			return cfg.withClient(func(client *sgx.Client, log *zap.Logger) error {
				opts := []verification.Option{
					verification.WithLogger(log.Named("verification")),
					verification.WithPolicy(policy),
				}
				if requireFreshCollateral {
					opts = append(opts, verification.RequireFreshCollateral())
				}
				verifier := verification.New(client, opts...)

				if statusOnly {
					verdict, err := verifier.Status(cmd.Context(), rawQuote)
					if err != nil {
						return err
					}
					return printVerdict(cmd, verdict)
				}

				result, err := verifier.Verify(cmd.Context(), rawQuote)
				if err != nil {
					return err
				}
				if err := printVerdict(cmd, result.Verdict); err != nil {
					return err
				}
				if result.CollateralExpired {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "collateral: expired")
				}
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mrEnclave, "mrenclave", "", "expected MRENCLAVE, hex encoded")
	flags.StringVar(&mrSigner, "mrsigner", "", "expected MRSIGNER, hex encoded")
	flags.Uint16Var(&productID, "product-id", 0, "expected ISV product ID")
	flags.Uint16Var(&minVersion, "min-version", 0, "lowest accepted ISV SVN")
	flags.StringVar(&reportDataText, "report-data", "", "expected report data as text")
	flags.StringVar(&reportDataHex, "report-data-hex", "", "expected report data as hex")
	flags.BoolVar(&requireFreshCollateral, "require-fresh-collateral", false, "fail if the verification collateral has expired")
	flags.BoolVar(&statusOnly, "status-only", false, "print the verification status without failing on rejection or checking the identity")
	return cmd
}

func printVerdict(cmd *cobra.Command, verdict verification.Verdict) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "status: %s (%s)\n", verdict.Status, verdict.Outcome)
	return err
}
