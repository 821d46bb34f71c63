package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintBytes = 10

// Fingerprint identifies a PKIX-encoded public key for out-of-band
// comparison: the first 10 bytes of its SHA-256, as five space-separated
// groups of four upper-case hex digits.
func Fingerprint(pkix []byte) string {
	sum := sha256.Sum256(pkix)
	h := strings.ToUpper(hex.EncodeToString(sum[:fingerprintBytes]))
	groups := make([]string, 0, len(h)/4)
	for i := 0; i < len(h); i += 4 {
		groups = append(groups, h[i:i+4])
	}
	return strings.Join(groups, " ")
}

// FingerprintKey is Fingerprint over pub's PKIX encoding.
func FingerprintKey(pub *rsa.PublicKey) (string, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return Fingerprint(der), nil
}
