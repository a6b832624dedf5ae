// Package signature provides HMAC signing and verification of webhook bodies.
//
// Signatures have the form "<algorithm>=<lowercase hex digest>", for example
// "sha256=5d41402abc4b2a76b9719d911017c592...".
package signature

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // sha1 is a receiver-selectable signing option.
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// Algorithm names a supported HMAC digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// ErrUnsupportedAlgorithm is returned by ParseAlgorithm for unknown names.
var ErrUnsupportedAlgorithm = errors.New("courier: unsupported signature algorithm")

// ParseAlgorithm normalizes s into a supported Algorithm. An empty string
// selects SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case SHA256, "":
		return SHA256, nil
	case SHA1:
		return SHA1, nil
	default:
		return SHA256, ErrUnsupportedAlgorithm
	}
}

// Sign computes the HMAC of payload keyed by secret. Unknown algorithms are
// signed with SHA256 and labelled accordingly.
func Sign(payload []byte, secret string, alg Algorithm) string {
	newHash := sha256.New
	label := SHA256
	if alg == SHA1 {
		newHash = sha1.New
		label = SHA1
	}
	return string(label) + "=" + digest(newHash, payload, secret)
}

func digest(newHash func() hash.Hash, payload []byte, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
