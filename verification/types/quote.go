package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

/*
   SGX DCAP Quote (v3) parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report.h

   Fields are read one at a time from fixed offsets of the raw quote.
   ParseQuote checks the length once, every accessor relies on that check.
*/

const (
	// QuoteHeaderSize is the size of the SGX quote header in bytes.
	QuoteHeaderSize = 2 + 2 + 4 + 2 + 2 + 16 + 20

	// ReportBodySize is the size of the SGX report body in bytes.
	ReportBodySize = CPUSVNSize + 4 + 12 + ExtProdIDSize + 16 + MeasurementSize + 32 +
		MeasurementSize + 32 + ConfigIDSize + 2 + 2 + 2 + 42 + FamilyIDSize + ReportDataSize

	// MinQuoteSize is the minimal length of a quote holding a complete report body.
	MinQuoteSize = QuoteHeaderSize + ReportBodySize

	// AttestationKeyTypeECDSAP256 is the attestation key type of ECDSA-256-with-P-256 quotes.
	AttestationKeyTypeECDSAP256 = 2
	// AttestationKeyTypeECDSAP384 is the attestation key type of ECDSA-384-with-P-384 quotes.
	AttestationKeyTypeECDSAP384 = 3
)

// Report body field offsets, relative to the start of the report body.
const (
	offCPUSVN       = 0
	offMiscSelect   = offCPUSVN + CPUSVNSize
	offReserved1    = offMiscSelect + 4
	offISVExtProdID = offReserved1 + 12
	offAttributes   = offISVExtProdID + ExtProdIDSize
	offMREnclave    = offAttributes + 16
	offReserved2    = offMREnclave + MeasurementSize
	offMRSigner     = offReserved2 + 32
	offReserved3    = offMRSigner + MeasurementSize
	offConfigID     = offReserved3 + 32
	offISVProdID    = offConfigID + ConfigIDSize
	offISVSVN       = offISVProdID + 2
	offConfigSVN    = offISVSVN + 2
	offReserved4    = offConfigSVN + 2
	offISVFamilyID  = offReserved4 + 42
	offReportData   = offISVFamilyID + FamilyIDSize
)

// QEVendorIDIntel is the Quoting Enclave vendor ID of Intel (939A7233F79C4CA9940A0DB3957F0607).
var QEVendorIDIntel = [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07}

// QuoteHeader is the header of an SGX DCAP quote.
type QuoteHeader struct {
	Version            uint16
	AttestationKeyType uint16
	AttestationKeyData uint32
	QESVN              uint16
	PCESVN             uint16
	VendorID           [16]byte
	UserData           [20]byte
}

// ReportBody is the ISV enclave report embedded in an SGX DCAP quote.
type ReportBody struct {
	CPUSVN       CPUSVN
	MiscSelect   uint32
	Reserved1    [12]byte
	ISVExtProdID ExtProdID
	Attributes   Attributes
	MRENCLAVE    Measurement
	Reserved2    [32]byte
	MRSIGNER     Measurement
	Reserved3    [32]byte
	ConfigID     ConfigID
	ISVProdID    uint16
	ISVSVN       uint16
	ConfigSVN    uint16
	Reserved4    [42]byte
	ISVFamilyID  FamilyID
	ReportData   ReportData
}

// Quote is an SGX DCAP quote.
// It is immutable: all accessors are reads from the underlying buffer.
type Quote struct {
	raw  []byte
	body []byte
}

// ParseQuote parses an SGX DCAP quote. The expected input is the complete quote.
// The quote keeps its own copy of rawQuote.
func ParseQuote(rawQuote []byte) (*Quote, error) {
	if err := checkQuoteLength(rawQuote); err != nil {
		return nil, err
	}
	raw := make([]byte, len(rawQuote))
	copy(raw, rawQuote)
	return newQuote(raw), nil
}

// ParseQuoteNoCopy parses an SGX DCAP quote without copying it.
// The caller must not modify rawQuote for as long as the returned quote is in use.
func ParseQuoteNoCopy(rawQuote []byte) (*Quote, error) {
	if err := checkQuoteLength(rawQuote); err != nil {
		return nil, err
	}
	return newQuote(rawQuote), nil
}

func checkQuoteLength(rawQuote []byte) error {
	if len(rawQuote) < MinQuoteSize {
		return &BadQuoteLengthError{Min: MinQuoteSize, Actual: len(rawQuote)}
	}
	return nil
}

func newQuote(raw []byte) *Quote {
	// Full slice expression: the body view can never be resliced past the report body.
	body := raw[QuoteHeaderSize:MinQuoteSize:MinQuoteSize]
	return &Quote{raw: raw, body: body}
}

// BadQuoteLengthError is returned when a buffer is too short to hold a quote header and report body.
type BadQuoteLengthError struct {
	Min    int
	Actual int
}

func (e *BadQuoteLengthError) Error() string {
	return fmt.Sprintf("quote structure is too short to be parsed (received: %d bytes, required: %d bytes)", e.Actual, e.Min)
}

// Bytes returns the complete raw quote, e.g. to send it to a remote verifier.
func (q *Quote) Bytes() []byte {
	return q.raw
}

// Header decodes the quote header.
func (q *Quote) Header() QuoteHeader {
	return QuoteHeader{
		Version:            binary.LittleEndian.Uint16(q.raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(q.raw[2:4]),
		AttestationKeyData: binary.LittleEndian.Uint32(q.raw[4:8]),
		QESVN:              binary.LittleEndian.Uint16(q.raw[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(q.raw[10:12]),
		VendorID:           [16]byte(q.raw[12:28]),
		UserData:           [20]byte(q.raw[28:48]),
	}
}

// ReportBody decodes the complete report body.
func (q *Quote) ReportBody() ReportBody {
	return ReportBody{
		CPUSVN:       q.CPUSVN(),
		MiscSelect:   q.MiscSelect(),
		Reserved1:    [12]byte(q.body[offReserved1:offISVExtProdID]),
		ISVExtProdID: q.ExtProdID(),
		Attributes:   q.Attributes(),
		MRENCLAVE:    q.MREnclave(),
		Reserved2:    [32]byte(q.body[offReserved2:offMRSigner]),
		MRSIGNER:     q.MRSigner(),
		Reserved3:    [32]byte(q.body[offReserved3:offConfigID]),
		ConfigID:     q.ConfigID(),
		ISVProdID:    q.ProductID(),
		ISVSVN:       q.Version(),
		ConfigSVN:    q.ConfigSVN(),
		Reserved4:    [42]byte(q.body[offReserved4:offISVFamilyID]),
		ISVFamilyID:  q.FamilyID(),
		ReportData:   q.ReportData(),
	}
}

// CPUSVN returns the security version number of the processor.
func (q *Quote) CPUSVN() CPUSVN {
	return CPUSVN(q.body[offCPUSVN:offMiscSelect])
}

// MiscSelect returns the MISCSELECT value of the enclave.
func (q *Quote) MiscSelect() uint32 {
	return binary.LittleEndian.Uint32(q.body[offMiscSelect:offReserved1])
}

// Attributes returns the enclave attributes.
func (q *Quote) Attributes() Attributes {
	return Attributes{
		Flags: binary.LittleEndian.Uint64(q.body[offAttributes : offAttributes+8]),
		XFRM:  binary.LittleEndian.Uint64(q.body[offAttributes+8 : offMREnclave]),
	}
}

// MREnclave returns the MRENCLAVE measurement of the enclave.
func (q *Quote) MREnclave() Measurement {
	return Measurement(q.body[offMREnclave:offReserved2])
}

// MRSigner returns the MRSIGNER measurement of the enclave.
func (q *Quote) MRSigner() Measurement {
	return Measurement(q.body[offMRSigner:offReserved3])
}

// ConfigID returns the CONFIGID of the enclave.
func (q *Quote) ConfigID() ConfigID {
	return ConfigID(q.body[offConfigID:offISVProdID])
}

// ProductID returns the ISV assigned product ID.
func (q *Quote) ProductID() uint16 {
	return binary.LittleEndian.Uint16(q.body[offISVProdID:offISVSVN])
}

// Version returns the ISV security version number (ISVSVN) of the enclave.
// This is not a software release version.
func (q *Quote) Version() uint16 {
	return binary.LittleEndian.Uint16(q.body[offISVSVN:offConfigSVN])
}

// ConfigSVN returns the security version number of the enclave configuration.
func (q *Quote) ConfigSVN() uint16 {
	return binary.LittleEndian.Uint16(q.body[offConfigSVN:offReserved4])
}

// FamilyID returns the ISV assigned product family ID.
func (q *Quote) FamilyID() FamilyID {
	return FamilyID(q.body[offISVFamilyID:offReportData])
}

// ExtProdID returns the ISV assigned extended product ID.
func (q *Quote) ExtProdID() ExtProdID {
	return ExtProdID(q.body[offISVExtProdID:offAttributes])
}

// ReportData returns the report data bound into the quote.
func (q *Quote) ReportData() ReportData {
	return ReportData(q.body[offReportData:ReportBodySize])
}

// String returns a stable, human readable representation of the quote's identity fields.
func (q *Quote) String() string {
	var b strings.Builder
	b.WriteString("SGXQuote{")
	fmt.Fprintf(&b, "mrenclave: %q, ", q.MREnclave())
	fmt.Fprintf(&b, "mrsigner: %q, ", q.MRSigner())
	fmt.Fprintf(&b, "report_data: %q, ", q.ReportData())
	fmt.Fprintf(&b, "product_id: %d, ", q.ProductID())
	fmt.Fprintf(&b, "version: %d, ", q.Version())
	fmt.Fprintf(&b, "family_id: %s, ", q.FamilyID())
	fmt.Fprintf(&b, "ext_prod_id: %s, ", q.ExtProdID())
	fmt.Fprintf(&b, "config_id: %q", q.ConfigID())
	b.WriteString("}")
	return b.String()
}

// MarshalJSON encodes the identity fields of the quote.
func (q *Quote) MarshalJSON() ([]byte, error) {
	header := q.Header()
	attributes := q.Attributes()
	return json.Marshal(quoteJSON{
		Version:            header.Version,
		AttestationKeyType: header.AttestationKeyType,
		QESVN:              header.QESVN,
		PCESVN:             header.PCESVN,
		CPUSVN:             q.CPUSVN().String(),
		MiscSelect:         q.MiscSelect(),
		AttributesFlags:    fmt.Sprintf("%#x", attributes.Flags),
		AttributesXFRM:     fmt.Sprintf("%#x", attributes.XFRM),
		Debug:              attributes.Debug(),
		MREnclave:          q.MREnclave(),
		MRSigner:           q.MRSigner(),
		ProductID:          q.ProductID(),
		ISVSVN:             q.Version(),
		ConfigSVN:          q.ConfigSVN(),
		ConfigID:           q.ConfigID().String(),
		FamilyID:           lowHighJSON{Low: fmt.Sprintf("%#x", q.FamilyID().Low()), High: fmt.Sprintf("%#x", q.FamilyID().High())},
		ExtProdID:          lowHighJSON{Low: fmt.Sprintf("%#x", q.ExtProdID().Low()), High: fmt.Sprintf("%#x", q.ExtProdID().High())},
		ReportData:         q.ReportData().String(),
	})
}

type quoteJSON struct {
	Version            uint16      `json:"version"`
	AttestationKeyType uint16      `json:"attestation_key_type"`
	QESVN              uint16      `json:"qe_svn"`
	PCESVN             uint16      `json:"pce_svn"`
	CPUSVN             string      `json:"cpu_svn"`
	MiscSelect         uint32      `json:"misc_select"`
	AttributesFlags    string      `json:"attributes_flags"`
	AttributesXFRM     string      `json:"attributes_xfrm"`
	Debug              bool        `json:"debug"`
	MREnclave          Measurement `json:"mrenclave"`
	MRSigner           Measurement `json:"mrsigner"`
	ProductID          uint16      `json:"isv_prod_id"`
	ISVSVN             uint16      `json:"isv_svn"`
	ConfigSVN          uint16      `json:"config_svn"`
	ConfigID           string      `json:"config_id"`
	FamilyID           lowHighJSON `json:"isv_family_id"`
	ExtProdID          lowHighJSON `json:"isv_ext_prod_id"`
	ReportData         string      `json:"report_data"`
}

type lowHighJSON struct {
	Low  string `json:"low"`
	High string `json:"high"`
}
