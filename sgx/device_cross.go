//go:build !linux
// +build !linux

package sgx

import "errors"

func openDevice(_ string) (device, error) {
	return nil, errors.New("the Occlum DCAP device is only supported on linux")
}
