package verification

import "fmt"

// Status is the raw sgx_ql_qv_result_t returned by the DCAP quote verification library.
type Status uint32

// Quote verification results.
const (
	StatusOK                         Status = 0x0000
	StatusConfigNeeded               Status = 0xA001
	StatusOutOfDate                  Status = 0xA002
	StatusOutOfDateConfigNeeded      Status = 0xA003
	StatusInvalidSignature           Status = 0xA004
	StatusRevoked                    Status = 0xA005
	StatusUnspecified                Status = 0xA006
	StatusSWHardeningNeeded          Status = 0xA007
	StatusConfigAndSWHardeningNeeded Status = 0xA008
	StatusMax                        Status = 0xA0FF
)

var statusNames = map[Status]string{
	StatusOK:                         "OK",
	StatusConfigNeeded:               "CONFIG_NEEDED",
	StatusOutOfDate:                  "OUT_OF_DATE",
	StatusOutOfDateConfigNeeded:      "OUT_OF_DATE_CONFIG_NEEDED",
	StatusInvalidSignature:           "INVALID_SIGNATURE",
	StatusRevoked:                    "REVOKED",
	StatusUnspecified:                "UNSPECIFIED",
	StatusSWHardeningNeeded:          "SW_HARDENING_NEEDED",
	StatusConfigAndSWHardeningNeeded: "CONFIG_AND_SW_HARDENING_NEEDED",
	StatusMax:                        "MAX",
}

// String returns the name of a known status, or its hex value.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%#04x)", uint32(s))
}

// Outcome is the policy decision for a verification status.
type Outcome int

const (
	// Rejected means the quote must not be trusted.
	Rejected Outcome = iota
	// Accepted means the quote was verified without findings.
	Accepted
	// AcceptedWithWarning means the quote was verified, but the platform needs attention.
	// The caller decides whether to trust the quote.
	AcceptedWithWarning
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	case AcceptedWithWarning:
		return "accepted with warning"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Verdict is the classified verification status.
type Verdict struct {
	Outcome Outcome
	// Status is the status the verdict was derived from.
	Status Status
}

// Classify maps a verification status to a verdict.
//
// OK is accepted. The configuration, TCB level and software hardening findings
// are accepted with a warning. Everything else is rejected, including codes
// this package does not know.
func Classify(status Status) Verdict {
	switch status {
	case StatusOK:
		return Verdict{Outcome: Accepted, Status: status}
	case StatusConfigNeeded,
		StatusOutOfDate,
		StatusOutOfDateConfigNeeded,
		StatusSWHardeningNeeded,
		StatusConfigAndSWHardeningNeeded:
		return Verdict{Outcome: AcceptedWithWarning, Status: status}
	default:
		return Verdict{Outcome: Rejected, Status: status}
	}
}
