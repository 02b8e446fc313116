package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signature verification errors.
var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// SignCallback computes the provider's callback signature for a body at the
// given unix timestamp. The signed message is "<t>.<body>". Used in tests and
// for documentation of the scheme; the provider computes this on its side.
func SignCallback(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v0=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifyCallback checks a provider callback signature header of the form
// "t=<unix>,v0=<hex>" against the raw request body. The comparison is
// constant-time. This scheme is unrelated to the outbound client-webhook
// signature ("sha256=<hex>"); the two must not be conflated.
func VerifyCallback(secret, header string, body []byte) error {
	timestamp, gotMAC, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(gotMAC, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// parseSignatureHeader splits "t=<unix>,v0=<hex>" into its parts.
func parseSignatureHeader(header string) (int64, []byte, error) {
	var timestampPart, macPart string
	for _, field := range strings.Split(header, ",") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "t="):
			timestampPart = strings.TrimPrefix(field, "t=")
		case strings.HasPrefix(field, "v0="):
			macPart = strings.TrimPrefix(field, "v0=")
		}
	}
	if timestampPart == "" || macPart == "" {
		return 0, nil, ErrMalformedSignature
	}

	timestamp, err := strconv.ParseInt(timestampPart, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad timestamp", ErrMalformedSignature)
	}

	gotMAC, err := hex.DecodeString(macPart)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad hex digest", ErrMalformedSignature)
	}

	return timestamp, gotMAC, nil
}
