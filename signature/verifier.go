package signature

import (
	"crypto/hmac"
	"strings"
)

// Verify checks a signature header value against payload and secret. The
// algorithm is taken from the header's label.
func Verify(payload []byte, secret, header string) bool {
	label, _, ok := strings.Cut(header, "=")
	if !ok {
		return false
	}
	alg := Algorithm(label)
	if alg != SHA256 && alg != SHA1 {
		return false
	}
	expected := Sign(payload, secret, alg)
	return hmac.Equal([]byte(expected), []byte(header))
}
