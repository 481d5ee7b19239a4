package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
)

// LFDIToSFDI derives the short-form device identifier from an LFDI per
// IEEE 2030.5 section 6.3.3: the leftmost 36 bits of the LFDI, as a decimal
// number, with a sum-of-digits check digit appended.
func LFDIToSFDI(lfdi string) (int64, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(lfdi))
	if len(cleaned) < 9 {
		return 0, fmt.Errorf("lfdi %q too short to derive sfdi", lfdi)
	}
	// 9 hex chars = 36 bits.
	value, err := strconv.ParseInt(cleaned[:9], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("lfdi %q is not hex: %w", lfdi, err)
	}
	return value*10 + checkDigit(value), nil
}

// LFDIFromCertificatePEM derives the long-form device identifier from a
// client certificate: the leftmost 160 bits of the SHA-256 fingerprint of
// the certificate's DER encoding, as upper-case hex.
func LFDIFromCertificatePEM(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("no certificate found in PEM data")
	}
	fingerprint := sha256.Sum256(block.Bytes)
	return strings.ToUpper(hex.EncodeToString(fingerprint[:]))[:40], nil
}

func checkDigit(v int64) int64 {
	var sum int64
	for v > 0 {
		sum += v % 10
		v /= 10
	}
	return (10 - sum%10) % 10
}
