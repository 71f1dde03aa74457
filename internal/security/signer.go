package security

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

type Signer interface {
	Sign(payload []byte) string
	Verify(payload []byte, signature string) bool
}

// ---- Implementation ----

type hmacSigner struct {
	secret []byte
}

// NewHMACSigner returns a signer producing lowercase hex HMAC-SHA512 digests.
func NewHMACSigner(secret string) (Signer, error) {
	if secret == "" {
		return nil, errors.New("hmac secret required")
	}
	return &hmacSigner{secret: []byte(secret)}, nil
}

func (s *hmacSigner) Sign(payload []byte) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the hex strings exactly, so any change in the presented
// signature, including letter case, is a mismatch.
func (s *hmacSigner) Verify(payload []byte, signature string) bool {
	want := s.Sign(payload)
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}
