package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadSignature is returned when a signature header does not match the body.
var ErrBadSignature = errors.New("webhook signature mismatch")

const signaturePrefix = "sha256="

// Sign computes the outbound webhook signature for a payload:
// "sha256=" followed by the hex HMAC-SHA256 of the raw body. Unlike the
// provider's inbound callback scheme, no timestamp is part of the message;
// the X-Webhook-Timestamp header is informational.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header against a body. Intended
// for receiving clients and tests; the comparison is constant-time.
func VerifySignature(secret, header string, body []byte) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
