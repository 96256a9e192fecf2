package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureVerifier checks gateway payment signatures against the shared key
// secret. The gateway signs "<gatewayOrderID>|<paymentID>" with HMAC-SHA256
// and sends the hex digest back through the client.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier for the given key secret.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: signature secret is required")
	}
	return &SignatureVerifier{secret: []byte(secret)}, nil
}

// Verify reports whether the supplied signature matches the expected digest
// for the order and payment pair. Comparison is constant time.
func (v *SignatureVerifier) Verify(gatewayOrderID, paymentID, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	paymentID = strings.TrimSpace(paymentID)
	signature = strings.TrimSpace(signature)
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return false
	}

	provided, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hmac.Equal(provided, mac.Sum(nil))
}
