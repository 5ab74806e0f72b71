package artifacts

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrTokenInvalid indicates a download token failed verification.
var ErrTokenInvalid = errors.New("invalid download token")

// ErrTokenExpired indicates a download token is past its expiry.
var ErrTokenExpired = errors.New("download token expired")

// Signer mints and validates time-limited download tokens binding a job id
// to one export format. Tokens are regenerated per request; they are never
// stored.
type Signer struct {
	secret []byte
}

// NewSigner builds a signer from a shared secret. When the secret is empty a
// random per-process secret is generated, which invalidates outstanding
// tokens across restarts but keeps short-lived retrieval working.
func NewSigner(secret string) *Signer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Signer{secret: key}
}

// Sign creates a token encoding job id, format, and expiry.
func (s *Signer) Sign(jobID string, format Format, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%s|%d", jobID, format, expiry.Unix())
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(payload)) + "." + sig
}

// Verify validates a token and returns the job id and format it grants
// access to. A token for a different job or format never verifies.
func (s *Signer) Verify(token string) (jobID string, format Format, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", "", ErrTokenInvalid
	}

	payloadBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", ErrTokenInvalid
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payloadBytes)
	expectedSig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[1]), []byte(expectedSig)) {
		return "", "", ErrTokenInvalid
	}

	fields := strings.SplitN(string(payloadBytes), "|", 3)
	if len(fields) != 3 {
		return "", "", ErrTokenInvalid
	}

	parsedFormat, ok := ParseFormat(fields[1])
	if !ok {
		return "", "", ErrTokenInvalid
	}

	expiryUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", "", ErrTokenInvalid
	}
	if time.Now().Unix() > expiryUnix {
		return "", "", ErrTokenExpired
	}

	return fields[0], parsedFormat, nil
}
