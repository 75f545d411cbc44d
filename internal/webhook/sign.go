package webhook

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
)

// KeyFromSecret derives the bot's signing key. The seed is the client
// secret repeated until it fills ed25519.SeedSize bytes.
func KeyFromSecret(secret string) (ed25519.PrivateKey, error) {
	if secret == "" {
		return nil, errors.New("webhook: empty secret")
	}
	seed := strings.Repeat(secret, ed25519.SeedSize/len(secret)+1)[:ed25519.SeedSize]
	return ed25519.NewKeyFromSeed([]byte(seed)), nil
}

// Sign returns the hex signature of timestamp+body.
func Sign(key ed25519.PrivateKey, timestamp string, body []byte) string {
	msg := append([]byte(timestamp), body...)
	return hex.EncodeToString(ed25519.Sign(key, msg))
}

// Verify checks a hex signature of timestamp+body.
func Verify(pub ed25519.PublicKey, timestamp string, body []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := append([]byte(timestamp), body...)
	return ed25519.Verify(pub, msg, sig)
}
