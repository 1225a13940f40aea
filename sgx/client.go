// Package sgx provides a client for the SGX DCAP quote device of the Occlum LibOS.
//
// The device is only reachable from inside an Occlum enclave.
// It generates quotes for a given report data and verifies quotes using the
// Intel quote verification library of the host.
package sgx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// DefaultDevicePath is the path of the DCAP device in an Occlum enclave.
const DefaultDevicePath = "/dev/sgx"

// Names of the device requests, as reported in [RequestFailedError].
const (
	OpGetQuoteSize            = "SGXIOC_GET_DCAP_QUOTE_SIZE"
	OpGenerateQuote           = "SGXIOC_GEN_DCAP_QUOTE"
	OpGetSupplementalDataSize = "SGXIOC_GET_DCAP_SUPPLEMENTAL_SIZE"
	OpVerifyQuote             = "SGXIOC_VER_DCAP_QUOTE"
)

var (
	// ErrClosed is returned when using a client after Close was called.
	ErrClosed = errors.New("sgx client is closed")
	// ErrTimeout is returned when the device did not answer within the configured timeout.
	ErrTimeout = errors.New("sgx device request timed out")

	errAbandoned = errors.New("sgx device request abandoned by caller")
)

// RequestFailedError is returned when the device rejects a request.
type RequestFailedError struct {
	Op   string
	Code int
	Err  error
}

func (e *RequestFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed %s with code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("failed %s with code %d", e.Op, e.Code)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// DeviceOpenError is returned when the DCAP device can not be opened.
type DeviceOpenError struct {
	Path string
	Err  error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("opening %s: %v", e.Path, e.Err)
}

func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// VerifyResponse is the answer of the device to a quote verification request.
type VerifyResponse struct {
	// Status is the raw sgx_ql_qv_result_t reported by the quote verification library.
	Status uint32
	// CollateralExpirationStatus is non-zero if the collateral used for verification has expired.
	CollateralExpirationStatus uint32
	// SupplementalData is the sgx_ql_qv_supplemental_t returned by the verification library.
	SupplementalData []byte
}

// device is a handle to a DCAP quote provider.
// Implementations do not need to be safe for concurrent use.
type device interface {
	getQuoteSize() (uint32, error)
	generateQuote(reportData *types.ReportData, quoteSize uint32) ([]byte, error)
	getSupplementalDataSize() (uint32, error)
	verifyQuote(quote []byte, supplementalDataSize uint32) (VerifyResponse, error)
	Close() error
}

// Client talks to the DCAP device.
//
// The device is opened on first use and serves one request at a time.
// A Client is safe for concurrent use; requests are serialized.
// Create one Client per process and Close it on shutdown.
type Client struct {
	mu sync.Mutex

	path    string
	open    func(path string) (device, error)
	dev     device
	closed  bool
	timeout time.Duration
	clock   clock.Clock
	log     *zap.Logger

	quoteSize             uint32
	quoteSizeKnown        bool
	supplementalSize      uint32
	supplementalSizeKnown bool
}

// Option configures a Client.
type Option func(*Client)

// WithDevicePath sets the path of the DCAP device.
func WithDevicePath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithLogger sets the logger of the client.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTimeout makes requests return [ErrTimeout] if the device does not answer in time.
// A request that timed out keeps the device busy until the device answers.
// Zero disables the timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithClock sets the clock used for timeouts and request durations.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// New returns a new Client. The device is not opened until the first request.
func New(opts ...Option) *Client {
	c := &Client{
		path:  DefaultDevicePath,
		open:  openDevice,
		clock: clock.RealClock{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuoteSize returns the size of quotes generated by the device.
// The size is requested from the device once and cached afterwards.
func (c *Client) QuoteSize(ctx context.Context) (uint32, error) {
	var size uint32
	err := c.do(ctx, OpGetQuoteSize, func(dev device) error {
		var err error
		size, err = c.quoteSizeLocked(dev)
		return err
	})
	return size, err
}

// SupplementalDataSize returns the size of the supplemental data returned by quote verification.
// The size is requested from the device once and cached afterwards.
func (c *Client) SupplementalDataSize(ctx context.Context) (uint32, error) {
	var size uint32
	err := c.do(ctx, OpGetSupplementalDataSize, func(dev device) error {
		var err error
		size, err = c.supplementalSizeLocked(dev)
		return err
	})
	return size, err
}

// GenerateQuote generates a quote binding reportData to the identity of the calling enclave.
func (c *Client) GenerateQuote(ctx context.Context, reportData types.ReportData) ([]byte, error) {
	var quote []byte
	err := c.do(ctx, OpGenerateQuote, func(dev device) error {
		size, err := c.quoteSizeLocked(dev)
		if err != nil {
			return err
		}
		quote, err = dev.generateQuote(&reportData, size)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// Quote generates a quote for reportData and parses it.
func (c *Client) Quote(ctx context.Context, reportData types.ReportData) (*types.Quote, error) {
	rawQuote, err := c.GenerateQuote(ctx, reportData)
	if err != nil {
		return nil, err
	}
	quote, err := types.ParseQuoteNoCopy(rawQuote)
	if err != nil {
		return nil, fmt.Errorf("parsing generated quote: %w", err)
	}
	return quote, nil
}

// VerifyQuote asks the device to verify rawQuote.
// The returned status is not interpreted; a non-OK status is not an error.
func (c *Client) VerifyQuote(ctx context.Context, rawQuote []byte) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, OpVerifyQuote, func(dev device) error {
		size, err := c.supplementalSizeLocked(dev)
		if err != nil {
			return err
		}
		resp, err = dev.verifyQuote(rawQuote, size)
		return err
	})
	if err != nil {
		return VerifyResponse{}, err
	}
	return resp, nil
}

// Close releases the device. Calling Close more than once is a no-op.
// The client is unusable after Close, even if closing the device failed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.dev == nil {
		return nil
	}
	dev := c.dev
	c.dev = nil
	if err := dev.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", c.path, err)
	}
	c.log.Debug("Closed DCAP device", zap.String("path", c.path))
	return nil
}

// do runs fn with exclusive access to the device.
// Without timeout and without a cancelable context fn runs on the calling goroutine.
// A request whose caller gave up before it got hold of the device is never sent.
func (c *Client) do(ctx context.Context, op string, fn func(device) error) error {
	if c.timeout <= 0 && ctx.Done() == nil {
		return c.run(op, nil, fn)
	}

	done := make(chan error, 1)
	abandoned := make(chan struct{})
	go func() {
		done <- c.run(op, abandoned, fn)
	}()

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timeout = c.clock.After(c.timeout)
	}

	select {
	case err := <-done:
		return err
	case <-timeout:
		close(abandoned)
		c.log.Warn("DCAP device request timed out", zap.String("op", op), zap.Duration("timeout", c.timeout))
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case <-ctx.Done():
		close(abandoned)
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (c *Client) run(op string, abandoned <-chan struct{}, fn func(device) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-abandoned:
		c.log.Debug("Dropped DCAP device request, caller is gone", zap.String("op", op))
		return errAbandoned
	default:
	}

	dev, err := c.deviceLocked()
	if err != nil {
		return err
	}

	start := c.clock.Now()
	err = fn(dev)
	c.log.Debug("DCAP device request finished",
		zap.String("op", op),
		zap.Duration("duration", c.clock.Since(start)),
		zap.Error(err),
	)
	return err
}

// deviceLocked returns the device, opening it if needed. A failed open is retried on the next call.
func (c *Client) deviceLocked() (device, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.dev != nil {
		return c.dev, nil
	}

	dev, err := c.open(c.path)
	if err != nil {
		return nil, &DeviceOpenError{Path: c.path, Err: err}
	}
	c.dev = dev
	c.log.Debug("Opened DCAP device", zap.String("path", c.path))
	return dev, nil
}

func (c *Client) quoteSizeLocked(dev device) (uint32, error) {
	if c.quoteSizeKnown {
		return c.quoteSize, nil
	}
	size, err := dev.getQuoteSize()
	if err != nil {
		return 0, err
	}
	c.quoteSize, c.quoteSizeKnown = size, true
	c.log.Debug("Negotiated quote size", zap.Uint32("size", size))
	return size, nil
}

func (c *Client) supplementalSizeLocked(dev device) (uint32, error) {
	if c.supplementalSizeKnown {
		return c.supplementalSize, nil
	}
	size, err := dev.getSupplementalDataSize()
	if err != nil {
		return 0, err
	}
	c.supplementalSize, c.supplementalSizeKnown = size, true
	c.log.Debug("Negotiated supplemental data size", zap.Uint32("size", size))
	return size, nil
}
