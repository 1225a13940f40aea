package types

import (
	"encoding/binary"
)

// Marshal serializes an SGX quote header (QuoteHeader) into its binary representation typically found in a raw quote.
func (qh *QuoteHeader) Marshal() [QuoteHeaderSize]byte {
	version := make([]byte, 2)
	attestationKeyType := make([]byte, 2)
	attestationKeyData := make([]byte, 4)
	qeSVN := make([]byte, 2)
	pceSVN := make([]byte, 2)
	binary.LittleEndian.PutUint16(version, qh.Version)
	binary.LittleEndian.PutUint16(attestationKeyType, qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(attestationKeyData, qh.AttestationKeyData)
	binary.LittleEndian.PutUint16(qeSVN, qh.QESVN)
	binary.LittleEndian.PutUint16(pceSVN, qh.PCESVN)

	var result [QuoteHeaderSize]byte
	copy(result[0:2], version)
	copy(result[2:4], attestationKeyType)
	copy(result[4:8], attestationKeyData)
	copy(result[8:10], qeSVN)
	copy(result[10:12], pceSVN)
	copy(result[12:28], qh.VendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes an SGX report body (ReportBody) into its binary representation typically found in a raw quote.
func (rb *ReportBody) Marshal() [ReportBodySize]byte {
	var result [ReportBodySize]byte
	copy(result[offCPUSVN:offMiscSelect], rb.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[offMiscSelect:offReserved1], rb.MiscSelect)
	copy(result[offReserved1:offISVExtProdID], rb.Reserved1[:])
	copy(result[offISVExtProdID:offAttributes], rb.ISVExtProdID[:])
	binary.LittleEndian.PutUint64(result[offAttributes:offAttributes+8], rb.Attributes.Flags)
	binary.LittleEndian.PutUint64(result[offAttributes+8:offMREnclave], rb.Attributes.XFRM)
	copy(result[offMREnclave:offReserved2], rb.MRENCLAVE[:])
	copy(result[offReserved2:offMRSigner], rb.Reserved2[:])
	copy(result[offMRSigner:offReserved3], rb.MRSIGNER[:])
	copy(result[offReserved3:offConfigID], rb.Reserved3[:])
	copy(result[offConfigID:offISVProdID], rb.ConfigID[:])
	binary.LittleEndian.PutUint16(result[offISVProdID:offISVSVN], rb.ISVProdID)
	binary.LittleEndian.PutUint16(result[offISVSVN:offConfigSVN], rb.ISVSVN)
	binary.LittleEndian.PutUint16(result[offConfigSVN:offReserved4], rb.ConfigSVN)
	copy(result[offReserved4:offISVFamilyID], rb.Reserved4[:])
	copy(result[offISVFamilyID:offReportData], rb.ISVFamilyID[:])
	copy(result[offReportData:ReportBodySize], rb.ReportData[:])

	return result
}

// NewQuote assembles a quote from a header, a report body and the opaque trailing signature data.
func NewQuote(header QuoteHeader, body ReportBody, signatureData []byte) *Quote {
	headerBytes := header.Marshal()
	bodyBytes := body.Marshal()

	raw := make([]byte, 0, MinQuoteSize+len(signatureData))
	raw = append(raw, headerBytes[:]...)
	raw = append(raw, bodyBytes[:]...)
	raw = append(raw, signatureData...)
	return newQuote(raw)
}
