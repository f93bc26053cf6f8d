package verification

import (
	"time"

	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/signature"
)

type SignatureType string

const (
	SignatureTypeCertificate SignatureType = "certificate"
	SignatureTypeElectronic  SignatureType = "electronic"
)

// Details is the display projection of an authorization's signature.
// Absent values are null, never empty strings, and certificate fields are
// null for electronic signatures so the two kinds cannot be confused.
type Details struct {
	Signed               bool            `json:"signed"`
	SignatureState       signature.State `json:"signatureState"`
	SignatureType        *SignatureType  `json:"signatureType"`
	SignerName           *string         `json:"signerName"`
	SignerTitle          *string         `json:"signerTitle,omitempty"`
	SignerEmail          *string         `json:"signerEmail"`
	SignerEdipi          *string         `json:"signerEdipi"`
	SignatureTimestamp   *time.Time      `json:"signatureTimestamp"`
	CertificateIssuer    *string         `json:"certificateIssuer"`
	CertificateSerial    *string         `json:"certificateSerial"`
	CertificateNotBefore *time.Time      `json:"certificateNotBefore"`
	CertificateNotAfter  *time.Time      `json:"certificateNotAfter"`
	CertificateVerified  *bool           `json:"certificateVerified"`
	VerificationDate     *time.Time      `json:"verificationDate"`
	VerificationReason   *string         `json:"verificationReason"`
	VerificationNotes    *string         `json:"verificationNotes"`
	HasSignatureImage    bool            `json:"hasSignatureImage"`
}

func NewDetails(a *models.Authorization) *Details {
	d := &Details{
		Signed:         a.Signed(),
		SignatureState: a.SignatureState,
	}

	switch {
	case a.Signature != nil:
		r := a.Signature
		d.SignatureType = ptr(SignatureTypeCertificate)
		d.SignerName = r.SignerCommonName.Ptr()
		d.SignerEmail = r.SignerEmail.Ptr()
		d.SignerEdipi = r.SignerUniquePersonnelID.Ptr()
		d.SignatureTimestamp = ptr(r.SignatureTimestamp())
		d.CertificateIssuer = nonEmpty(r.CertificateIssuer)
		d.CertificateSerial = nonEmpty(r.CertificateSerial)
		d.CertificateNotBefore = ptr(r.CertificateNotBefore)
		d.CertificateNotAfter = ptr(r.CertificateNotAfter)
		d.CertificateVerified = r.CertificateVerified
		d.VerificationDate = r.VerificationTimestamp
		if r.VerificationTimestamp != nil {
			d.VerificationReason = nonEmpty(string(r.VerificationReason))
			d.VerificationNotes = nonEmpty(r.VerificationNotes)
		}
	case a.ElectronicSignature != nil:
		r := a.ElectronicSignature
		d.SignatureType = ptr(SignatureTypeElectronic)
		d.SignerName = ptr(r.SignerName)
		d.SignerTitle = r.SignerTitle.Ptr()
		d.SignatureTimestamp = ptr(r.Timestamp)
		d.HasSignatureImage = len(r.SignatureImage) > 0
	}

	return d
}

func ptr[T any](v T) *T {
	return &v
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
