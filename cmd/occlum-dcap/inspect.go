package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <quote-file>",
		Short: "Print the enclave identity contained in a quote",
		Long: `Print the enclave identity contained in a quote. The quote is not verified.
The quote file holds a raw or hex encoded quote, "-" reads it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawQuote, err := readQuote(cmd, args[0])
			if err != nil {
				return err
			}
			quote, err := types.ParseQuoteNoCopy(rawQuote)
			if err != nil {
				return fmt.Errorf("parsing quote: %w", err)
			}

			if asJSON {
				prettyPrint, err := json.MarshalIndent(quote, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(prettyPrint))
				return err
			}
			return printQuote(cmd, quote)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the quote as JSON")
	return cmd
}

func printQuote(cmd *cobra.Command, quote *types.Quote) error {
	header := quote.Header()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "quote version:\t%d\n", header.Version)
	fmt.Fprintf(w, "attestation key type:\t%d\n", header.AttestationKeyType)
	fmt.Fprintf(w, "qe svn:\t%d\n", header.QESVN)
	fmt.Fprintf(w, "pce svn:\t%d\n", header.PCESVN)
	fmt.Fprintf(w, "mrenclave:\t%s\n", quote.MREnclave())
	fmt.Fprintf(w, "mrsigner:\t%s\n", quote.MRSigner())
	fmt.Fprintf(w, "product id:\t%d\n", quote.ProductID())
	fmt.Fprintf(w, "version:\t%d\n", quote.Version())
	fmt.Fprintf(w, "config svn:\t%d\n", quote.ConfigSVN())
	fmt.Fprintf(w, "config id:\t%s\n", quote.ConfigID())
	fmt.Fprintf(w, "family id:\t%s\n", quote.FamilyID())
	fmt.Fprintf(w, "ext prod id:\t%s\n", quote.ExtProdID())
	fmt.Fprintf(w, "cpu svn:\t%s\n", quote.CPUSVN())
	fmt.Fprintf(w, "debug:\t%t\n", quote.Attributes().Debug())
	fmt.Fprintf(w, "report data:\t%s\n", quote.ReportData())
	return w.Flush()
}
