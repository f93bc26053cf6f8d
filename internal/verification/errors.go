package verification

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/trust"
)

var (
	ErrMalformedCertificate        = pki.ErrMalformedCertificate
	ErrAlreadySigned               = signature.ErrAlreadySigned
	ErrRevocationSourceUnavailable = revocation.ErrUnavailable

	// ErrNoSignaturePresent is returned when re-verification is requested
	// for an authorization without a certificate-backed signature.
	ErrNoSignaturePresent = errors.New("no certificate-backed signature present")

	// ErrSignatureReplaced is returned when the signature changed while a
	// re-verification was in flight.
	ErrSignatureReplaced = errors.New("signature was replaced during verification")
)

// TrustFailure is returned when the signer certificate fails evaluation.
// The reason code is carried verbatim.
type TrustFailure struct {
	Reason            trust.ReasonCode
	Notes             string
	SourceUnavailable bool
}

func newTrustFailure(eval trust.Evaluation) *TrustFailure {
	return &TrustFailure{Reason: eval.Reason, Notes: eval.Notes, SourceUnavailable: eval.SourceUnavailable}
}

func (e *TrustFailure) Error() string {
	if e.Notes == "" {
		return fmt.Sprintf("certificate not trusted: %s", e.Reason)
	}
	return fmt.Sprintf("certificate not trusted: %s: %s", e.Reason, e.Notes)
}

// Unwrap exposes revocation outages so callers can tell them apart from a
// definitive rejection.
func (e *TrustFailure) Unwrap() error {
	if e.SourceUnavailable {
		return revocation.ErrUnavailable
	}
	return nil
}

// ReasonOf extracts the reason code carried by err, if any.
func ReasonOf(err error) (trust.ReasonCode, bool) {
	var tf *TrustFailure
	switch {
	case errors.As(err, &tf):
		return tf.Reason, true
	case errors.Is(err, pki.ErrMalformedCertificate):
		return trust.ReasonMalformed, true
	default:
		return "", false
	}
}
