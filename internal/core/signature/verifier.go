package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
)

// Sign returns the hex encoded HMAC-SHA256 of message keyed with secret.
func Sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex encoded HMAC-SHA256 of
// message under secret. The comparison is constant time.
func Verify(message []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(got, mac.Sum(nil))
}

// ConfirmationMessage is the payload a client-side checkout signs:
// "<gateway order id>|<gateway payment id>".
func ConfirmationMessage(gatewayOrderID, gatewayPaymentID string) []byte {
	return []byte(gatewayOrderID + "|" + gatewayPaymentID)
}

type Verifier struct {
	keySecret     string
	webhookSecret string
}

func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{keySecret: keySecret, webhookSecret: webhookSecret}
}

func (v *Verifier) VerifyConfirmation(gatewayOrderID, gatewayPaymentID, sig string) error {
	return check(ConfirmationMessage(gatewayOrderID, gatewayPaymentID), sig, v.keySecret,
		"gateway key secret is not configured", "invalid payment signature")
}

// VerifyWebhook must be given the body exactly as received; parsing and
// re-encoding can change the byte layout.
func (v *Verifier) VerifyWebhook(body []byte, sig string) error {
	return check(body, sig, v.webhookSecret,
		"webhook secret is not configured", "invalid webhook signature")
}

func check(message []byte, sig, secret, missingSecretMsg, mismatchMsg string) error {
	if secret == "" {
		return apperr.ConfigurationErr(missingSecretMsg)
	}
	if sig == "" {
		return apperr.ValidationErr("missing signature", "signature")
	}
	if !Verify(message, sig, secret) {
		return apperr.SignatureErr(mismatchMsg)
	}
	return nil
}
