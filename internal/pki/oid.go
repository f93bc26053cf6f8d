package pki

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

var (
	// OIDSubjectAltName is the subjectAltName certificate extension.
	OIDSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

	// OIDEmailAddress is the PKCS#9 emailAddress attribute some issuers still
	// place in the subject DN instead of the SAN.
	OIDEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

	// OIDUserPrincipalName is the Microsoft UPN otherName. DoD CAC
	// certificates carry the EDIPI here as "1234567890@mil".
	// Value: UTF8String
	OIDUserPrincipalName = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2, 3}
)

// ErrExtensionNotFound is returned when a required extension is missing
var ErrExtensionNotFound = errors.New("extension not found")

// ErrOtherNameNotFound is returned when the SAN has no otherName of the requested type
var ErrOtherNameNotFound = errors.New("otherName not found")

// general name tags from RFC 5280 section 4.2.1.6
const (
	generalNameOtherName = 0
	generalNameRFC822    = 1
)

// ExtractOtherName returns the string value of the first subjectAltName
// otherName entry whose type-id equals oid.
func ExtractOtherName(cert *x509.Certificate, oid asn1.ObjectIdentifier) (string, error) {
	names, err := subjectAltNames(cert)
	if err != nil {
		return "", err
	}

	for _, gn := range names {
		if gn.Class != asn1.ClassContextSpecific || gn.Tag != generalNameOtherName {
			continue
		}

		// otherName is an IMPLICIT SEQUENCE { type-id OID, value [0] EXPLICIT ANY }
		var typeID asn1.ObjectIdentifier
		rest, err := asn1.Unmarshal(gn.Bytes, &typeID)
		if err != nil {
			return "", fmt.Errorf("failed to unmarshal otherName type: %w", err)
		}
		if !typeID.Equal(oid) {
			continue
		}

		var explicit asn1.RawValue
		if _, err := asn1.Unmarshal(rest, &explicit); err != nil {
			return "", fmt.Errorf("failed to unmarshal otherName value: %w", err)
		}
		if explicit.Class != asn1.ClassContextSpecific || explicit.Tag != 0 {
			return "", fmt.Errorf("unexpected otherName value tag %d", explicit.Tag)
		}

		return decodeDirectoryString(explicit.Bytes)
	}

	return "", ErrOtherNameNotFound
}

// ExtractSubjectEmail returns the emailAddress attribute from the subject DN.
func ExtractSubjectEmail(cert *x509.Certificate) (string, bool) {
	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(OIDEmailAddress) {
			continue
		}
		if s, ok := atv.Value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// EDIPIFromUPN returns the local part of a CAC style UPN ("1234567890@mil").
// Values without an "@" are returned unchanged.
func EDIPIFromUPN(upn string) string {
	local, _, found := strings.Cut(upn, "@")
	if !found {
		return strings.TrimSpace(upn)
	}
	return strings.TrimSpace(local)
}

func subjectAltNames(cert *x509.Certificate) ([]asn1.RawValue, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDSubjectAltName) {
			continue
		}

		var seq asn1.RawValue
		rest, err := asn1.Unmarshal(ext.Value, &seq)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal subjectAltName: %w", err)
		}
		if len(rest) != 0 {
			return nil, errors.New("trailing data after subjectAltName")
		}
		if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
			return nil, errors.New("subjectAltName is not a sequence")
		}

		var names []asn1.RawValue
		data := seq.Bytes
		for len(data) > 0 {
			var gn asn1.RawValue
			data, err = asn1.Unmarshal(data, &gn)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal general name: %w", err)
			}
			names = append(names, gn)
		}
		return names, nil
	}
	return nil, ErrExtensionNotFound
}

func decodeDirectoryString(b []byte) (string, error) {
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(b, &inner); err != nil {
		return "", fmt.Errorf("failed to unmarshal string value: %w", err)
	}
	if inner.Class != asn1.ClassUniversal {
		return "", fmt.Errorf("unexpected string class %d", inner.Class)
	}
	switch inner.Tag {
	case asn1.TagUTF8String, asn1.TagIA5String, asn1.TagPrintableString:
		return string(inner.Bytes), nil
	default:
		return "", fmt.Errorf("unsupported string tag %d", inner.Tag)
	}
}

// MarshalSubjectAltName encodes rfc822Name and otherName entries as a
// subjectAltName extension value.
func MarshalSubjectAltName(emails []string, otherNames map[string]string) ([]byte, error) {
	names := make([]asn1.RawValue, 0, len(emails)+len(otherNames))
	for _, email := range emails {
		names = append(names, asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: generalNameRFC822, Bytes: []byte(email)})
	}

	for oidText, value := range otherNames {
		oid, err := ParseOID(oidText)
		if err != nil {
			return nil, err
		}
		typeID, err := asn1.Marshal(oid)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal otherName type: %w", err)
		}
		inner, err := asn1.MarshalWithParams(value, "utf8")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal otherName value: %w", err)
		}
		explicit, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal otherName wrapper: %w", err)
		}
		names = append(names, asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        generalNameOtherName,
			IsCompound: true,
			Bytes:      append(typeID, explicit...),
		})
	}

	return asn1.Marshal(names)
}

// ParseOID parses a dotted decimal object identifier.
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n < 0 || fmt.Sprint(n) != p {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid[i] = n
	}
	return oid, nil
}
