package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// SecretPrefix marks generated signing secrets.
const SecretPrefix = "whsec_"

// GenerateSecret creates a random signing secret: "whsec_" followed by
// 32 random bytes in hex, 70 characters total.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("courier: failed to generate random secret: " + err.Error())
	}
	return SecretPrefix + hex.EncodeToString(b)
}
