package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// TrustZoneID derives the trust zone identifier from the PKI CA certificate:
// hex(sha256(DER)) of the first certificate block.
func TrustZoneID(caPEM []byte) (string, error) {
	rest := caPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return "", fmt.Errorf("no CERTIFICATE block in CA PEM")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		sum := sha256.Sum256(block.Bytes)
		return hex.EncodeToString(sum[:]), nil
	}
}
