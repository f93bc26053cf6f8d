package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/signoff/internal/pki"
	"gopkg.in/yaml.v3"
)

type InspectCmd struct {
	Certificate    string `arg:"" help:"PEM or DER certificate file, - for stdin"`
	Output         string `short:"o" help:"output format" default:"table" enum:"table,json,yaml"`
	PersonnelIDOID string `help:"otherName OID carrying the unique personnel identifier" default:"1.3.6.1.4.1.311.20.2.3"`
}

// identityView is the printable form of a certificate identity.
type identityView struct {
	CommonName   pki.Optional `json:"commonName" yaml:"commonName"`
	Email        pki.Optional `json:"email" yaml:"email"`
	EDIPI        pki.Optional `json:"edipi" yaml:"edipi"`
	Subject      string       `json:"subject" yaml:"subject"`
	Issuer       string       `json:"issuer" yaml:"issuer"`
	SerialNumber string       `json:"serialNumber" yaml:"serialNumber"`
	NotBefore    time.Time    `json:"notBefore" yaml:"notBefore"`
	NotAfter     time.Time    `json:"notAfter" yaml:"notAfter"`
	Fingerprint  string       `json:"fingerprint" yaml:"fingerprint"`
}

func newIdentityView(id *pki.CertificateIdentity) identityView {
	return identityView{
		CommonName:   id.CommonName,
		Email:        id.Email,
		EDIPI:        id.UniquePersonnelID,
		Subject:      id.SubjectDN,
		Issuer:       id.IssuerDN,
		SerialNumber: id.SerialNumber,
		NotBefore:    id.NotBefore,
		NotAfter:     id.NotAfter,
		Fingerprint:  id.Fingerprint,
	}
}

func (c *InspectCmd) Run(ctx context.Context, globals *Globals) error {
	oid, err := pki.ParseOID(c.PersonnelIDOID)
	if err != nil {
		return err
	}

	data, err := readCertificateFile(c.Certificate)
	if err != nil {
		return err
	}

	identity, err := pki.NewParser(pki.WithPersonnelIDOID(oid)).Parse(data)
	if err != nil {
		return err
	}

	return writeOutput(os.Stdout, c.Output, newIdentityView(identity), func(w io.Writer) {
		printIdentity(w, identity)
	})
}

func printIdentity(w io.Writer, id *pki.CertificateIdentity) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Common name:\t%s\n", id.CommonName.OrElse("-"))
	fmt.Fprintf(tw, "Email:\t%s\n", id.Email.OrElse("-"))
	fmt.Fprintf(tw, "EDIPI:\t%s\n", id.UniquePersonnelID.OrElse("-"))
	fmt.Fprintf(tw, "Subject:\t%s\n", id.SubjectDN)
	fmt.Fprintf(tw, "Issuer:\t%s\n", id.IssuerDN)
	fmt.Fprintf(tw, "Serial:\t%s\n", id.SerialNumber)
	fmt.Fprintf(tw, "Valid:\t%s to %s\n", id.NotBefore.Format(time.RFC3339), id.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(tw, "Fingerprint:\t%s\n", id.Fingerprint)
	tw.Flush()
}

// writeOutput renders v as json or yaml, or calls table for the default.
func writeOutput(w io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		table(w)
		return nil
	}
}
