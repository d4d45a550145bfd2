package capture

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for content fingerprints.
// Version suffix enables future algorithm migration.
const domainFingerprint = "blackiya/fingerprint/v1"

// Fingerprint computes a stable content hash for a sample payload.
//
// The payload is NFC-normalized before hashing so that equivalent Unicode
// sequences produced by different capture paths (API JSON vs. DOM text)
// fingerprint identically. Format: SHA256(domain + 0x00 + NFC(payload)),
// hex-encoded. The null separator prevents domain/data boundary ambiguity.
func Fingerprint(payload []byte) string {
	h := sha256.New()
	h.Write([]byte(domainFingerprint))
	h.Write([]byte{0x00})
	h.Write(norm.NFC.Bytes(payload))
	return hex.EncodeToString(h.Sum(nil))
}
