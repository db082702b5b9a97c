package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer produces the signature of one request payload.
type Signer interface {
	Sign(payload string) string
}

// HMACSHA256Hex signs with HMAC-SHA256 and lower-case hex encoding.
type HMACSHA256Hex struct {
	Secret []byte
}

func (s HMACSHA256Hex) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256UpperHex signs with HMAC-SHA256 and upper-case hex encoding.
type HMACSHA256UpperHex struct {
	Secret []byte
}

func (s HMACSHA256UpperHex) Sign(payload string) string {
	return strings.ToUpper(HMACSHA256Hex(s).Sign(payload))
}

// KrakenSigner signs private requests as HMAC-SHA512 of the URI path followed
// by SHA256(nonce + post body), keyed with the base64 decoded secret.
type KrakenSigner struct {
	secret []byte
}

// NewKrakenSigner decodes the base64 API secret.
func NewKrakenSigner(secret string) (*KrakenSigner, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode api secret: %w", err)
	}
	return &KrakenSigner{secret: key}, nil
}

// SignRequest returns the base64 API-Sign header value.
func (s *KrakenSigner) SignRequest(path, nonce, body string) string {
	sum := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
