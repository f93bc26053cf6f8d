package pki

import (
	"crypto/x509"
	"time"
)

// CertificateIdentity is the signer identity extracted from an X.509
// certificate. It is a value derived entirely from the certificate bytes,
// so parsing the same bytes twice yields equal identities.
type CertificateIdentity struct {
	CommonName        Optional `json:"commonName"`
	Email             Optional `json:"email"`
	UniquePersonnelID Optional `json:"edipi"`

	SubjectDN    string    `json:"subject"`
	IssuerDN     string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	NotBefore    time.Time `json:"notBefore"`
	NotAfter     time.Time `json:"notAfter"`
	Fingerprint  string    `json:"fingerprint"`

	cert *x509.Certificate
}

// Certificate returns the parsed certificate the identity was read from.
func (i *CertificateIdentity) Certificate() *x509.Certificate {
	return i.cert
}

// DisplayName prefers the common name, then email, then the EDIPI.
func (i *CertificateIdentity) DisplayName() string {
	if v, ok := i.CommonName.Get(); ok {
		return v
	}
	if v, ok := i.Email.Get(); ok {
		return v
	}
	return i.UniquePersonnelID.OrElse(i.SubjectDN)
}

// Equal compares every extracted attribute. The underlying certificate is
// covered by the fingerprint.
func (i *CertificateIdentity) Equal(o *CertificateIdentity) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.CommonName == o.CommonName &&
		i.Email == o.Email &&
		i.UniquePersonnelID == o.UniquePersonnelID &&
		i.SubjectDN == o.SubjectDN &&
		i.IssuerDN == o.IssuerDN &&
		i.SerialNumber == o.SerialNumber &&
		i.NotBefore.Equal(o.NotBefore) &&
		i.NotAfter.Equal(o.NotAfter) &&
		i.Fingerprint == o.Fingerprint
}
