package pki

import (
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
)

// Fingerprint returns the base58 encoded SHA-256 digest of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return base58.Encode(sum[:])
}

// SerialHex renders a certificate serial as upper case hex, the form
// operators read off certificate viewers and CRL dumps.
func SerialHex(serial *big.Int) string {
	if serial == nil {
		return ""
	}
	return strings.ToUpper(serial.Text(16))
}

// NormalizeSerial accepts hex with optional colons or a 0x prefix and
// returns the SerialHex form.
func NormalizeSerial(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.ReplaceAll(s, ":", "")
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return "", false
	}
	return SerialHex(n), true
}
