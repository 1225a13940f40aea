package sgx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgelesssys/go-occlum-dcap/blobs"
	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQuoteSizeIsCached(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	client := newTestClient(t, dev)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		size, err := client.QuoteSize(ctx)
		require.NoError(err)
		assert.EqualValues(len(blobs.SGXQuote()), size)
	}
	_, err := client.GenerateQuote(ctx, types.ReportData{})
	require.NoError(err)

	assert.Equal(1, dev.calls(OpGetQuoteSize))
	assert.Equal(1, dev.calls(OpGenerateQuote))
}

func TestSupplementalDataSizeIsCached(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	client := newTestClient(t, dev)
	ctx := context.Background()

	size, err := client.SupplementalDataSize(ctx)
	require.NoError(err)
	assert.EqualValues(dev.supplementalSize, size)

	for i := 0; i < 3; i++ {
		resp, err := client.VerifyQuote(ctx, blobs.SGXQuote())
		require.NoError(err)
		assert.EqualValues(blobs.SGXQuoteStatus, resp.Status)
		assert.Len(resp.SupplementalData, int(dev.supplementalSize))
	}

	assert.Equal(1, dev.calls(OpGetSupplementalDataSize))
	assert.Equal(3, dev.calls(OpVerifyQuote))
}

func TestSizeNotCachedOnFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	dev.failures[OpGetQuoteSize] = 1
	client := newTestClient(t, dev)
	ctx := context.Background()

	_, err := client.QuoteSize(ctx)
	require.Error(err)

	size, err := client.QuoteSize(ctx)
	require.NoError(err)
	assert.EqualValues(len(blobs.SGXQuote()), size)
	assert.Equal(2, dev.calls(OpGetQuoteSize))
}

func TestQuote(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client := newTestClient(t, newFakeDevice())

	reportData, err := types.ReportDataFromString("hello occlum")
	require.NoError(err)
	quote, err := client.Quote(context.Background(), reportData)
	require.NoError(err)

	assert.Equal(blobs.SGXQuoteMREnclave, quote.MREnclave().String())
	assert.Equal(blobs.SGXQuoteMRSigner, quote.MRSigner().String())
	assert.Equal(reportData, quote.ReportData())
}

func TestGenerateThenVerify(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client := newTestClient(t, newFakeDevice())
	ctx := context.Background()

	quote, err := client.Quote(ctx, types.ReportData{})
	require.NoError(err)
	assert.Equal(blobs.SGXQuoteMREnclave, quote.MREnclave().String())
	assert.Equal(blobs.SGXQuoteMRSigner, quote.MRSigner().String())
	assert.EqualValues(blobs.SGXQuoteProductID, quote.ProductID())
	assert.EqualValues(blobs.SGXQuoteVersion, quote.Version())
	assert.Equal(types.ReportData{}, quote.ReportData())

	resp, err := client.VerifyQuote(ctx, quote.Bytes())
	require.NoError(err)
	assert.EqualValues(blobs.SGXQuoteStatus, resp.Status)
	assert.Zero(resp.CollateralExpirationStatus)

	require.NoError(client.Close())
}

func TestQuoteTooShort(t *testing.T) {
	require := require.New(t)

	dev := newFakeDevice()
	dev.quote = dev.quote[:types.MinQuoteSize-1]
	client := newTestClient(t, dev)

	_, err := client.Quote(context.Background(), types.ReportData{})
	var lengthErr *types.BadQuoteLengthError
	require.ErrorAs(err, &lengthErr)
}

func TestRequestFailed(t *testing.T) {
	testCases := map[string]struct {
		failOp string
		call   func(context.Context, *Client) error
	}{
		"quote size": {
			failOp: OpGetQuoteSize,
			call: func(ctx context.Context, c *Client) error {
				_, err := c.QuoteSize(ctx)
				return err
			},
		},
		"quote size during generation": {
			failOp: OpGetQuoteSize,
			call: func(ctx context.Context, c *Client) error {
				_, err := c.GenerateQuote(ctx, types.ReportData{})
				return err
			},
		},
		"generate quote": {
			failOp: OpGenerateQuote,
			call: func(ctx context.Context, c *Client) error {
				_, err := c.GenerateQuote(ctx, types.ReportData{})
				return err
			},
		},
		"supplemental size during verification": {
			failOp: OpGetSupplementalDataSize,
			call: func(ctx context.Context, c *Client) error {
				_, err := c.VerifyQuote(ctx, blobs.SGXQuote())
				return err
			},
		},
		"verify quote": {
			failOp: OpVerifyQuote,
			call: func(ctx context.Context, c *Client) error {
				_, err := c.VerifyQuote(ctx, blobs.SGXQuote())
				return err
			},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			dev := newFakeDevice()
			dev.failures[tc.failOp] = 1
			client := newTestClient(t, dev)

			err := tc.call(context.Background(), client)
			var reqErr *RequestFailedError
			require.ErrorAs(err, &reqErr)
			assert.Equal(tc.failOp, reqErr.Op)
			assert.Equal(-1, reqErr.Code)
			assert.ErrorContains(err, tc.failOp)
		})
	}
}

func TestLazyOpen(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	client := New(WithLogger(zaptest.NewLogger(t)), WithDevicePath("/dev/fake"))
	openCalls := 0
	client.open = func(path string) (device, error) {
		openCalls++
		assert.Equal("/dev/fake", path)
		if openCalls == 1 {
			return nil, errors.New("no such device")
		}
		return dev, nil
	}
	assert.Zero(openCalls)

	_, err := client.QuoteSize(context.Background())
	var openErr *DeviceOpenError
	require.ErrorAs(err, &openErr)
	assert.Equal("/dev/fake", openErr.Path)

	_, err = client.QuoteSize(context.Background())
	require.NoError(err)
	_, err = client.SupplementalDataSize(context.Background())
	require.NoError(err)
	assert.Equal(2, openCalls)

	require.NoError(client.Close())
	assert.Equal(1, dev.calls("close"))
}

func TestClose(t *testing.T) {
	testCases := map[string]struct {
		useBeforeClose bool
		closeErr       error
		wantErr        bool
	}{
		"never opened": {},
		"opened": {
			useBeforeClose: true,
		},
		"device close fails": {
			useBeforeClose: true,
			closeErr:       errors.New("close failed"),
			wantErr:        true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			dev := newFakeDevice()
			dev.closeErr = tc.closeErr
			client := newTestClient(t, dev)
			ctx := context.Background()

			if tc.useBeforeClose {
				_, err := client.QuoteSize(ctx)
				require.NoError(err)
			}

			err := client.Close()
			if tc.wantErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
			assert.NoError(client.Close())

			if tc.useBeforeClose {
				assert.Equal(1, dev.calls("close"))
			} else {
				assert.Zero(dev.calls("close"))
			}

			_, err = client.QuoteSize(ctx)
			assert.ErrorIs(err, ErrClosed)
			_, err = client.GenerateQuote(ctx, types.ReportData{})
			assert.ErrorIs(err, ErrClosed)
			_, err = client.VerifyQuote(ctx, blobs.SGXQuote())
			assert.ErrorIs(err, ErrClosed)
		})
	}
}

func TestRequestsAreSerialized(t *testing.T) {
	assert := assert.New(t)

	dev := newFakeDevice()
	dev.delay = time.Millisecond
	client := newTestClient(t, dev)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := client.GenerateQuote(ctx, types.ReportData{})
			assert.NoError(err)
		}()
		go func() {
			defer wg.Done()
			_, err := client.VerifyQuote(ctx, blobs.SGXQuote())
			assert.NoError(err)
		}()
	}
	wg.Wait()

	assert.Equal(1, dev.maxActive())
	assert.Equal(1, dev.calls(OpGetQuoteSize))
	assert.Equal(1, dev.calls(OpGetSupplementalDataSize))
}

func TestTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clk := testclock.NewFakeClock(time.Now())
	dev := newFakeDevice()
	dev.block = make(chan struct{})
	client := New(
		WithLogger(zaptest.NewLogger(t)),
		WithTimeout(time.Second),
		WithClock(clk),
	)
	client.open = func(string) (device, error) { return dev, nil }

	errC := make(chan error, 1)
	go func() {
		_, err := client.VerifyQuote(context.Background(), blobs.SGXQuote())
		errC <- err
	}()

	require.Eventually(func() bool {
		return clk.HasWaiters() && dev.calls(OpGetSupplementalDataSize) == 1
	}, time.Second, time.Millisecond)
	clk.Step(time.Second)
	err := <-errC
	assert.ErrorIs(err, ErrTimeout)
	assert.ErrorContains(err, OpVerifyQuote)

	// The abandoned request still owns the device until it answers.
	close(dev.block)
	require.NoError(client.Close())
	assert.Equal(1, dev.calls(OpVerifyQuote))
}

func TestContextCanceled(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	dev.block = make(chan struct{})
	client := newTestClient(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		_, err := client.GenerateQuote(ctx, types.ReportData{})
		errC <- err
	}()

	require.Eventually(func() bool { return dev.calls(OpGetQuoteSize) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(<-errC, context.Canceled)

	close(dev.block)
	require.NoError(client.Close())
}

func TestAbandonedRequestsAreNotSent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dev := newFakeDevice()
	dev.block = make(chan struct{})
	core, logs := observer.New(zap.DebugLevel)
	client := New(WithLogger(zap.New(core)))
	client.open = func(string) (device, error) { return dev, nil }

	firstErr := make(chan error, 1)
	go func() {
		_, err := client.VerifyQuote(context.Background(), blobs.SGXQuote())
		firstErr <- err
	}()
	require.Eventually(func() bool { return dev.calls(OpGetSupplementalDataSize) == 1 }, time.Second, time.Millisecond)

	const waiters = 5
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			_, err := client.VerifyQuote(ctx, blobs.SGXQuote())
			assert.ErrorIs(err, context.DeadlineExceeded)
		}()
	}
	wg.Wait()

	close(dev.block)
	require.NoError(<-firstErr)

	require.Eventually(func() bool {
		return logs.FilterMessage("Dropped DCAP device request, caller is gone").Len() == waiters
	}, time.Second, time.Millisecond)
	require.NoError(client.Close())
	assert.Equal(1, dev.calls(OpVerifyQuote))
	assert.Equal(1, dev.calls(OpGetSupplementalDataSize))
}

func newTestClient(t *testing.T, dev *fakeDevice) *Client {
	t.Helper()
	client := New(WithLogger(zaptest.NewLogger(t)))
	client.open = func(string) (device, error) { return dev, nil }
	return client
}

type fakeDevice struct {
	mu     sync.Mutex
	counts map[string]int
	active int
	max    int

	quote            []byte
	status           uint32
	supplementalSize uint32
	failures         map[string]int
	closeErr         error
	delay            time.Duration
	block            chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		counts:           map[string]int{},
		failures:         map[string]int{},
		quote:            blobs.SGXQuote(),
		status:           blobs.SGXQuoteStatus,
		supplementalSize: 176,
	}
}

func (d *fakeDevice) calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[op]
}

func (d *fakeDevice) maxActive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.max
}

// enter records a request and returns an error if a failure was queued for op.
func (d *fakeDevice) enter(op string) error {
	d.mu.Lock()
	d.counts[op]++
	d.active++
	if d.active > d.max {
		d.max = d.active
	}
	fail := d.failures[op] > 0
	if fail {
		d.failures[op]--
	}
	d.mu.Unlock()

	if d.block != nil {
		<-d.block
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if fail {
		return &RequestFailedError{Op: op, Code: -1, Err: errors.New("injected failure")}
	}
	return nil
}

func (d *fakeDevice) leave() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
}

func (d *fakeDevice) getQuoteSize() (uint32, error) {
	defer d.leave()
	if err := d.enter(OpGetQuoteSize); err != nil {
		return 0, err
	}
	return uint32(len(d.quote)), nil
}

func (d *fakeDevice) generateQuote(reportData *types.ReportData, quoteSize uint32) ([]byte, error) {
	defer d.leave()
	if err := d.enter(OpGenerateQuote); err != nil {
		return nil, err
	}
	quote := make([]byte, quoteSize)
	copy(quote, d.quote)
	if len(quote) >= types.MinQuoteSize {
		copy(quote[types.QuoteHeaderSize+320:], reportData[:])
	}
	return quote, nil
}

func (d *fakeDevice) getSupplementalDataSize() (uint32, error) {
	defer d.leave()
	if err := d.enter(OpGetSupplementalDataSize); err != nil {
		return 0, err
	}
	return d.supplementalSize, nil
}

func (d *fakeDevice) verifyQuote(_ []byte, supplementalDataSize uint32) (VerifyResponse, error) {
	defer d.leave()
	if err := d.enter(OpVerifyQuote); err != nil {
		return VerifyResponse{}, err
	}
	return VerifyResponse{
		Status:           d.status,
		SupplementalData: make([]byte, supplementalDataSize),
	}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts["close"]++
	return d.closeErr
}
