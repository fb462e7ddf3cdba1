package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer produces the broker's HMAC request signature headers.
type Signer struct {
	accessKey string
	secretKey string
	accountID string
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey, accountID string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		accountID: accountID,
	}
}

// GenerateHeaders creates the signed headers for a request.
// method: GET, POST, etc.
// path: /api/v1/orders (no host)
// query: param=1&test=2 (empty if none)
// body: json string (empty if none)
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	// Signed payload: timestamp + method + path[?query] + body
	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}
	payload := timestamp + method + fullPath + body

	headers := map[string]string{
		"X-API-KEY":       s.accessKey,
		"X-API-SIGN":      computeHmacSha256(payload, s.secretKey),
		"X-API-TIMESTAMP": timestamp,
		"X-API-ACCOUNT":   s.accountID,
		"Content-Type":    "application/json",
	}

	return headers
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
