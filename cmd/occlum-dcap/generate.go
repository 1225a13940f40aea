package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/edgelesssys/go-occlum-dcap/sgx"
	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newGenerateCmd(cfg *config) *cobra.Command {
	var (
		reportDataText string
		reportDataHex  string
		out            string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a quote for the calling enclave",
		Long: `Generate an SGX DCAP quote binding the given report data to the identity of the calling enclave.
The quote is written to --out, or hex encoded to stdout if --out is not set.
Both forms are accepted by verify and inspect, e.g. "occlum-dcap generate | occlum-dcap verify -".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reportData, err := parseReportData(reportDataText, reportDataHex)
			if err != nil {
				return err
			}

			return cfg.withClient(func(client *sgx.Client, log *zap.Logger) error {
				quote, err := client.Quote(cmd.Context(), reportData)
				if err != nil {
					return fmt.Errorf("generating quote: %w", err)
				}
				log.Info("Generated quote",
					zap.Int("size", len(quote.Bytes())),
					zap.Stringer("mrenclave", quote.MREnclave()),
					zap.Stringer("mrsigner", quote.MRSigner()),
				)

				if out == "" {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(quote.Bytes()))
					return err
				}
				if err := os.WriteFile(out, quote.Bytes(), 0o644); err != nil {
					return fmt.Errorf("writing quote: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reportDataText, "report-data", "", "report data as text, at most 64 bytes")
	cmd.Flags().StringVar(&reportDataHex, "report-data-hex", "", "report data as hex, at most 64 bytes")
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the raw quote to, default is hex on stdout")
	return cmd
}

func parseReportData(text, hexText string) (types.ReportData, error) {
	if text != "" && hexText != "" {
		return types.ReportData{}, errors.New("--report-data and --report-data-hex are mutually exclusive")
	}
	if hexText == "" {
		reportData, err := types.ReportDataFromString(text)
		if err != nil {
			return types.ReportData{}, fmt.Errorf("parsing report data: %w", err)
		}
		return reportData, nil
	}

	raw, err := hex.DecodeString(hexText)
	if err != nil {
		return types.ReportData{}, fmt.Errorf("decoding report data: %w", err)
	}
	reportData, err := types.ReportDataFromBytes(raw)
	if err != nil {
		return types.ReportData{}, fmt.Errorf("parsing report data: %w", err)
	}
	return reportData, nil
}
