/*
# SGX DCAP Quote Data Types

This package contains data types and parsing functions for SGX DCAP quotes
as returned by the Occlum DCAP device.

## SGX Quote Format

Only the quote header and the ISV report body are interpreted.
Everything behind the report body (signature length, ECDSA signature, QE report, certification data)
is kept as opaque bytes and handed to the quote verification library as is.

	          SGX Quote (v3)                              ReportBody
	┌─────────────────────────────┐          ┌─────────────────────────────────────┐
	│         QuoteHeader         │          │ CPUSVN            (16)        0     │
	│          (48 bytes)         │          │ MiscSelect        (4)         16    │
	│                             │          │ Reserved1         (12)        20    │
	│ Version             (2)     │          │ ISVExtProdID      (16)        32    │
	│ AttestationKeyType  (2)     │          │ Attributes        (16)        48    │
	│ AttestationKeyData  (4)     │          │ MRENCLAVE         (32)        64    │
	│ QESVN               (2)     │          │ Reserved2         (32)        96    │
	│ PCESVN              (2)     │          │ MRSIGNER          (32)        128   │
	│ VendorID            (16)    │          │ Reserved3         (32)        160   │
	│ UserData            (20)    │          │ ConfigID          (64)        192   │
	├─────────────────────────────┤          │ ISVProdID         (2)         256   │
	│         ReportBody          ├─────────►│ ISVSVN            (2)         258   │
	│         (384 bytes)         │          │ ConfigSVN         (2)         260   │
	├─────────────────────────────┤          │ Reserved4         (42)        262   │
	│                             │          │ ISVFamilyID       (16)        304   │
	│   Signature, certification  │          │ ReportData        (64)        320   │
	│     data (opaque, kept)     │          └─────────────────────────────────────┘
	│                             │
	└─────────────────────────────┘

All multi-byte integers are little-endian.
*/
package types
