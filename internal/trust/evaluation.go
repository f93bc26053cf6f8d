// Package trust decides whether a signer certificate is acceptable at a
// given instant.
package trust

import (
	"encoding/json"
	"time"
)

// ReasonCode explains the outcome of an evaluation.
type ReasonCode string

const (
	ReasonOK              ReasonCode = "OK"
	ReasonExpired         ReasonCode = "EXPIRED"
	ReasonNotYetValid     ReasonCode = "NOT_YET_VALID"
	ReasonUntrustedIssuer ReasonCode = "UNTRUSTED_ISSUER"
	ReasonRevoked         ReasonCode = "REVOKED"
	ReasonMalformed       ReasonCode = "MALFORMED"
)

// ParseReasonCode accepts a stored reason code. Unknown values map to
// MALFORMED so they can never read as OK.
func ParseReasonCode(s string) ReasonCode {
	switch r := ReasonCode(s); r {
	case ReasonOK, ReasonExpired, ReasonNotYetValid, ReasonUntrustedIssuer, ReasonRevoked, ReasonMalformed:
		return r
	default:
		return ReasonMalformed
	}
}

// Evaluation is the result of evaluating one certificate. Validity is
// derived from the reason so the two can never disagree.
type Evaluation struct {
	Reason           ReasonCode
	Notes            string
	AsOf             time.Time
	Fingerprint      string
	RevocationSource string

	// SourceUnavailable is set when revocation status could not be
	// determined, whichever way the failure policy resolved it.
	SourceUnavailable bool
}

// Passed builds a successful evaluation.
func Passed(asOf time.Time, fingerprint, notes string) Evaluation {
	return Evaluation{Reason: ReasonOK, AsOf: asOf, Fingerprint: fingerprint, Notes: notes}
}

// Failed builds a failed evaluation. A reason of OK is downgraded to
// MALFORMED.
func Failed(reason ReasonCode, asOf time.Time, notes string) Evaluation {
	if reason == ReasonOK {
		reason = ReasonMalformed
	}
	return Evaluation{Reason: reason, AsOf: asOf, Notes: notes}
}

func (e Evaluation) Valid() bool {
	return e.Reason == ReasonOK
}

func (e Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Valid            bool       `json:"valid"`
		Reason           ReasonCode `json:"reasonCode"`
		Notes            string     `json:"notes,omitempty"`
		AsOf             time.Time  `json:"asOf"`
		RevocationSource string     `json:"revocationSource,omitempty"`
	}{e.Valid(), e.Reason, e.Notes, e.AsOf, e.RevocationSource})
}
