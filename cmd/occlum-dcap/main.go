// Command occlum-dcap generates, verifies and inspects SGX DCAP quotes from inside an Occlum enclave.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/edgelesssys/go-occlum-dcap/sgx"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	cfgDevice   = "device"
	cfgTimeout  = "timeout"
	cfgLogLevel = "log-level"

	envPrefix = "OCCLUM_DCAP"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// config holds the settings shared by all commands.
// Flags take precedence over OCCLUM_DCAP_* environment variables.
type config struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	cfg := &config{v: viper.New()}

	cmd := &cobra.Command{
		Use:          "occlum-dcap",
		Short:        "Generate and verify SGX DCAP quotes in an Occlum enclave",
		SilenceUsage: true,
	}

	flags := commonFlags()
	cmd.PersistentFlags().AddFlagSet(flags)
	_ = cfg.v.BindPFlags(flags)
	cfg.v.SetEnvPrefix(envPrefix)
	cfg.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.v.AutomaticEnv()

	cmd.AddCommand(
		newGenerateCmd(cfg),
		newVerifyCmd(cfg),
		newInspectCmd(),
		newMeasurementCmd(),
	)
	return cmd
}

func commonFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("common", flag.ContinueOnError)
	fs.String(cfgDevice, sgx.DefaultDevicePath, "path of the Occlum DCAP device")
	fs.Duration(cfgTimeout, 0, "timeout of a single device request, 0 waits forever")
	fs.String(cfgLogLevel, "info", "log level (debug, info, warn, error)")
	return fs
}

func (c *config) logger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.v.GetString(cfgLogLevel))); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "console"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapCfg.Build()
}

// readQuote reads a quote from path, or from stdin if path is "-".
// Hex encoded quotes, as printed by generate, are decoded.
func readQuote(cmd *cobra.Command, path string) ([]byte, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading quote: %w", err)
	}

	text := bytes.TrimSpace(raw)
	decoded := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(decoded, text); err == nil && len(decoded) > 0 {
		return decoded, nil
	}
	return raw, nil
}

// withClient runs fn with a client for the configured device and closes the client afterwards.
func (c *config) withClient(fn func(client *sgx.Client, log *zap.Logger) error) (err error) {
	log, err := c.logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client := sgx.New(
		sgx.WithDevicePath(c.v.GetString(cfgDevice)),
		sgx.WithTimeout(c.v.GetDuration(cfgTimeout)),
		sgx.WithLogger(log.Named("sgx")),
	)
	defer func() {
		err = multierr.Append(err, client.Close())
	}()

	return fn(client, log)
}
