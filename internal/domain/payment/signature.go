package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes and checks the shared-secret signature the gateway attaches
// to completed payments: HMAC-SHA256 over intentID || paymentRef, hex encoded.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

func (s Signer) Sign(intentID, paymentRef string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(intentID))
	mac.Write([]byte(paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the client-supplied signature in constant time.
func (s Signer) Verify(intentID, paymentRef, signature string) bool {
	expected := s.Sign(intentID, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}
