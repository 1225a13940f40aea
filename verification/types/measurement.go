package types

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	// MeasurementSize is the size of an MRENCLAVE or MRSIGNER value in bytes.
	MeasurementSize = 32
	// ReportDataSize is the size of the user supplied report data in bytes.
	ReportDataSize = 64
	// ConfigIDSize is the size of the enclave CONFIGID in bytes.
	ConfigIDSize = 64
	// CPUSVNSize is the size of the CPU security version number in bytes.
	CPUSVNSize = 16
	// FamilyIDSize is the size of the ISV family ID in bytes.
	FamilyIDSize = 16
	// ExtProdIDSize is the size of the ISV extended product ID in bytes.
	ExtProdIDSize = 16
)

// rawBase64 encodes report data and config IDs: standard alphabet, no padding.
var rawBase64 = base64.RawStdEncoding

// Measurement is an SGX enclave measurement register value (MRENCLAVE or MRSIGNER).
type Measurement [MeasurementSize]byte

// NewMeasurement creates a Measurement from its raw bytes.
func NewMeasurement(raw [MeasurementSize]byte) Measurement {
	return Measurement(raw)
}

// ParseMeasurement decodes a hex encoded measurement.
// The input has to decode to exactly 32 bytes.
func ParseMeasurement(text string) (Measurement, error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return Measurement{}, &MeasurementParseError{Detail: fmt.Sprintf("invalid hex: %v", err)}
	}
	if len(raw) != MeasurementSize {
		return Measurement{}, &MeasurementParseError{
			Detail: fmt.Sprintf("expected %d bytes, got %d bytes", MeasurementSize, len(raw)),
		}
	}
	return Measurement(raw), nil
}

// String returns the lowercase hex encoding of the measurement.
func (m Measurement) String() string {
	return hex.EncodeToString(m[:])
}

// MarshalText encodes the measurement as lowercase hex.
func (m Measurement) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a hex encoded measurement.
func (m *Measurement) UnmarshalText(text []byte) error {
	parsed, err := ParseMeasurement(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MeasurementParseError is returned when a measurement can not be decoded from text.
type MeasurementParseError struct {
	Detail string
}

func (e *MeasurementParseError) Error() string {
	return fmt.Sprintf("parsing SGX measurement: %s", e.Detail)
}

// ReportData is the 64 bytes of application data bound into a quote.
type ReportData [ReportDataSize]byte

// ReportDataFromBytes copies data into a ReportData, padding it with zero bytes.
// Data longer than 64 bytes is rejected instead of being truncated.
func ReportDataFromBytes(data []byte) (ReportData, error) {
	if len(data) > ReportDataSize {
		return ReportData{}, &ReportDataOverflowError{Length: len(data)}
	}
	var rd ReportData
	copy(rd[:], data)
	return rd, nil
}

// ReportDataFromString copies the UTF-8 bytes of s into a ReportData, padding it with zero bytes.
// Strings longer than 64 bytes are rejected instead of being truncated.
func ReportDataFromString(s string) (ReportData, error) {
	return ReportDataFromBytes([]byte(s))
}

// String returns the unpadded base64 encoding of the report data.
func (r ReportData) String() string {
	return rawBase64.EncodeToString(r[:])
}

// ReportDataOverflowError is returned when more than 64 bytes of report data are supplied.
type ReportDataOverflowError struct {
	Length int
}

func (e *ReportDataOverflowError) Error() string {
	return fmt.Sprintf("report data must not be longer than %d bytes, received %d bytes", ReportDataSize, e.Length)
}

// FamilyID is the ISV assigned product family ID.
type FamilyID [FamilyIDSize]byte

// Low returns the lower 8 bytes as a little-endian integer.
func (f FamilyID) Low() uint64 { return binary.LittleEndian.Uint64(f[0:8]) }

// High returns the upper 8 bytes as a little-endian integer.
func (f FamilyID) High() uint64 { return binary.LittleEndian.Uint64(f[8:16]) }

func (f FamilyID) String() string {
	return fmt.Sprintf("{low: %#x, high: %#x}", f.Low(), f.High())
}

// ExtProdID is the ISV assigned extended product ID.
type ExtProdID [ExtProdIDSize]byte

// Low returns the lower 8 bytes as a little-endian integer.
func (e ExtProdID) Low() uint64 { return binary.LittleEndian.Uint64(e[0:8]) }

// High returns the upper 8 bytes as a little-endian integer.
func (e ExtProdID) High() uint64 { return binary.LittleEndian.Uint64(e[8:16]) }

func (e ExtProdID) String() string {
	return fmt.Sprintf("{low: %#x, high: %#x}", e.Low(), e.High())
}

// ConfigID is the CONFIGID the enclave was launched with.
type ConfigID [ConfigIDSize]byte

func (c ConfigID) String() string {
	return rawBase64.EncodeToString(c[:])
}

// CPUSVN is the security version number of the processor.
type CPUSVN [CPUSVNSize]byte

func (c CPUSVN) String() string {
	return hex.EncodeToString(c[:])
}

// AttributeDebug is the attributes flag set for enclaves running in debug mode.
const AttributeDebug uint64 = 0x02

// Attributes are the SGX enclave attributes.
type Attributes struct {
	Flags uint64
	XFRM  uint64
}

// Debug reports whether the enclave was launched in debug mode.
func (a Attributes) Debug() bool {
	return a.Flags&AttributeDebug != 0
}
