package main

import (
	"errors"
	"fmt"

	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/spf13/cobra"
)

var errMeasurementMismatch = errors.New("measurements differ")

func newMeasurementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "measurement <hex> <hex>",
		Short: "Compare two hex encoded enclave measurements",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := types.ParseMeasurement(args[0])
			if err != nil {
				return fmt.Errorf("parsing first measurement: %w", err)
			}
			b, err := types.ParseMeasurement(args[1])
			if err != nil {
				return fmt.Errorf("parsing second measurement: %w", err)
			}
			if a != b {
				return fmt.Errorf("%w: %s != %s", errMeasurementMismatch, a, b)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "measurements match: %s\n", a)
			return err
		},
	}
}
