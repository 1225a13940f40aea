//go:build linux

package sgx

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/edgelesssys/go-occlum-dcap/verification/types"
	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

// IOCTL calls of the Occlum DCAP device
// https://github.com/occlum/occlum/blob/0.29.7/src/libos/src/fs/dev_fs/dev_sgx/mod.rs
var (
	requestQuoteSize        = ioctl.IOR('s', 7, unsafe.Sizeof(uint32(0)))
	requestGenerateQuote    = ioctl.IOWR('s', 8, unsafe.Sizeof(genDCAPQuoteArg{}))
	requestSupplementalSize = ioctl.IOR('s', 9, unsafe.Sizeof(uint32(0)))
	requestVerifyQuote      = ioctl.IOWR('s', 10, unsafe.Sizeof(verDCAPQuoteArg{}))
)

// genDCAPQuoteArg is the argument of SGXIOC_GEN_DCAP_QUOTE.
type genDCAPQuoteArg struct {
	reportData *types.ReportData // in
	quoteSize  *uint32           // in/out
	quoteBuf   *byte             // out
}

// verDCAPQuoteArg is the argument of SGXIOC_VER_DCAP_QUOTE.
type verDCAPQuoteArg struct {
	quoteBuf                   *byte   // in
	quoteSize                  uint32  // in
	collateralExpirationStatus *uint32 // out
	quoteVerificationResult    *uint32 // out
	supplementalDataSize       uint32  // in, optional
	supplementalData           *byte   // out, optional
}

// ioctlDevice is a handle to the Occlum DCAP device.
type ioctlDevice struct {
	file *os.File
}

func openDevice(path string) (device, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &ioctlDevice{file: file}, nil
}

func (d *ioctlDevice) Close() error {
	return d.file.Close()
}

func (d *ioctlDevice) getQuoteSize() (uint32, error) {
	var size uint32
	if err := d.ioctl(OpGetQuoteSize, requestQuoteSize, unsafe.Pointer(&size)); err != nil {
		return 0, err
	}
	return size, nil
}

func (d *ioctlDevice) getSupplementalDataSize() (uint32, error) {
	var size uint32
	if err := d.ioctl(OpGetSupplementalDataSize, requestSupplementalSize, unsafe.Pointer(&size)); err != nil {
		return 0, err
	}
	return size, nil
}

func (d *ioctlDevice) generateQuote(reportData *types.ReportData, quoteSize uint32) ([]byte, error) {
	if quoteSize == 0 {
		return nil, fmt.Errorf("%s: device reported a quote size of 0", OpGetQuoteSize)
	}

	quote := make([]byte, quoteSize)
	size := quoteSize
	arg := genDCAPQuoteArg{
		reportData: reportData,
		quoteSize:  &size,
		quoteBuf:   &quote[0],
	}

	err := d.ioctl(OpGenerateQuote, requestGenerateQuote, unsafe.Pointer(&arg))
	runtime.KeepAlive(reportData)
	runtime.KeepAlive(quote)
	if err != nil {
		return nil, err
	}
	if size > quoteSize {
		return nil, fmt.Errorf("%s: device wrote %d bytes into a %d byte buffer", OpGenerateQuote, size, quoteSize)
	}
	return quote[:size], nil
}

func (d *ioctlDevice) verifyQuote(quote []byte, supplementalDataSize uint32) (VerifyResponse, error) {
	if len(quote) == 0 {
		return VerifyResponse{}, fmt.Errorf("%s: empty quote", OpVerifyQuote)
	}
	if uint64(len(quote)) > uint64(^uint32(0)) {
		return VerifyResponse{}, fmt.Errorf("%s: quote is too large (received: %d bytes)", OpVerifyQuote, len(quote))
	}

	var collateralExpirationStatus, status uint32
	supplemental := make([]byte, supplementalDataSize)
	arg := verDCAPQuoteArg{
		quoteBuf:                   &quote[0],
		quoteSize:                  uint32(len(quote)),
		collateralExpirationStatus: &collateralExpirationStatus,
		quoteVerificationResult:    &status,
		supplementalDataSize:       supplementalDataSize,
	}
	if len(supplemental) > 0 {
		arg.supplementalData = &supplemental[0]
	}

	err := d.ioctl(OpVerifyQuote, requestVerifyQuote, unsafe.Pointer(&arg))
	runtime.KeepAlive(quote)
	runtime.KeepAlive(supplemental)
	if err != nil {
		return VerifyResponse{}, err
	}

	return VerifyResponse{
		Status:                     status,
		CollateralExpirationStatus: collateralExpirationStatus,
		SupplementalData:           supplemental,
	}, nil
}

func (d *ioctlDevice) ioctl(op string, request uintptr, arg unsafe.Pointer) error {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), request, uintptr(arg))
	if errno != 0 {
		return &RequestFailedError{Op: op, Code: int(int32(ret)), Err: errno}
	}
	return nil
}
