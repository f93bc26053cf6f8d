package commands

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/signoff/internal/logger"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/trust"
	"github.com/wolfeidau/signoff/internal/trust/anchorsource"
)

// EvaluateCmd runs the same trust evaluation used for signing. It exits
// non-zero when the certificate is not trusted.
type EvaluateCmd struct {
	Certificate string    `arg:"" help:"PEM or DER certificate file, - for stdin"`
	Chain       string    `help:"PEM bundle of intermediates presented with the certificate" type:"existingfile"`
	AsOf        time.Time `help:"evaluate as of this RFC 3339 time instead of now"`
	Output      string    `short:"o" help:"output format" default:"table" enum:"table,json,yaml"`

	Policy PolicyFlags `embed:""`
}

type evaluationView struct {
	Valid            bool             `json:"valid" yaml:"valid"`
	Reason           trust.ReasonCode `json:"reasonCode" yaml:"reasonCode"`
	Notes            string           `json:"notes,omitempty" yaml:"notes,omitempty"`
	AsOf             time.Time        `json:"asOf" yaml:"asOf"`
	RevocationSource string           `json:"revocationSource,omitempty" yaml:"revocationSource,omitempty"`
	Signer           *identityView    `json:"signer,omitempty" yaml:"signer,omitempty"`
}

func (c *EvaluateCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	cfg, err := c.Policy.load()
	if err != nil {
		return err
	}
	material, err := loadMaterial(ctx, cfg, anchorsource.Config{})
	if err != nil {
		return err
	}
	policy, err := buildTrustPolicy(cfg, material, nil)
	if err != nil {
		return err
	}

	data, err := readCertificateFile(c.Certificate)
	if err != nil {
		return err
	}
	cert, err := pki.DecodeCertificate(data)
	if err != nil {
		return err
	}

	var chain []*x509.Certificate
	if c.Chain != "" {
		bundle, err := os.ReadFile(c.Chain)
		if err != nil {
			return fmt.Errorf("failed to read chain: %w", err)
		}
		if chain, err = pki.ParseCertificates(bundle); err != nil {
			return err
		}
	}

	asOf := c.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	eval := policy.validator.Evaluate(ctx, nil, cert.Raw, asOf, chain...)

	view := evaluationView{
		Valid:            eval.Valid(),
		Reason:           eval.Reason,
		Notes:            eval.Notes,
		AsOf:             eval.AsOf,
		RevocationSource: eval.RevocationSource,
	}
	if identity, err := policy.parser.Identify(cert); err == nil {
		v := newIdentityView(identity)
		view.Signer = &v
	}

	if err := writeOutput(os.Stdout, c.Output, view, func(w io.Writer) {
		printEvaluation(w, view)
	}); err != nil {
		return err
	}

	if !eval.Valid() {
		return fmt.Errorf("certificate not trusted: %s", eval.Reason)
	}
	return nil
}

func printEvaluation(w io.Writer, v evaluationView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Valid:\t%t\n", v.Valid)
	fmt.Fprintf(tw, "Reason:\t%s\n", v.Reason)
	if v.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", v.Notes)
	}
	fmt.Fprintf(tw, "As of:\t%s\n", v.AsOf.Format(time.RFC3339))
	if v.RevocationSource != "" {
		fmt.Fprintf(tw, "Revocation source:\t%s\n", v.RevocationSource)
	}
	if v.Signer != nil {
		fmt.Fprintf(tw, "Signer:\t%s\n", v.Signer.Subject)
	}
	tw.Flush()
}
