package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bcnelson/sid/internal/domain"
)

// SignatureHeader carries the forge's HMAC of the delivery body.
const SignatureHeader = "X-Hub-Signature-256"

// Sign returns the header value a forge would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" signature over body.
func VerifySignature(secret string, body []byte, signature string) error {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return domain.ErrBadSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return domain.ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrBadSignature
	}
	return nil
}
