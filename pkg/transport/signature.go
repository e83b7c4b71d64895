package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signature headers set on gateway requests.
const (
	HeaderSignature = "X-Notify-Signature"
	HeaderTimestamp = "X-Notify-Timestamp"
	HeaderID        = "X-Notify-ID"
)

// Signature binds a request body to a point in time.
type Signature struct {
	Value     string
	Timestamp int64
	ID        string
}

// Apply sets the signature headers on h.
func (s Signature) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Value)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	h.Set(HeaderID, s.ID)
}

// Sign computes HMAC-SHA256(secret, timestamp + "." + body).
func Sign(secret string, body []byte, now time.Time) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("%w: signing secret is required", ErrInvalidConfig)
	}
	ts := now.Unix()
	return Signature{
		Value:     mac(secret, ts, body),
		Timestamp: ts,
		ID:        uuid.NewString(),
	}, nil
}

// SignatureFromHeader reads the signature headers from h.
func SignatureFromHeader(h http.Header) (Signature, error) {
	value := h.Get(HeaderSignature)
	raw := h.Get(HeaderTimestamp)
	if value == "" || raw == "" {
		return Signature{}, fmt.Errorf("%w: missing headers", ErrBadSignature)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: malformed timestamp", ErrBadSignature)
	}
	return Signature{Value: value, Timestamp: ts, ID: h.Get(HeaderID)}, nil
}

// Verify checks sig against body. A positive maxAge rejects signatures
// older than maxAge or more than a minute in the future.
func Verify(secret string, body []byte, sig Signature, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: signing secret is required", ErrInvalidConfig)
	}
	if maxAge > 0 {
		age := now.Sub(time.Unix(sig.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: timestamp too old", ErrBadSignature)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp in the future", ErrBadSignature)
		}
	}
	if !hmac.Equal([]byte(mac(secret, sig.Timestamp, body)), []byte(sig.Value)) {
		return fmt.Errorf("%w: mismatch", ErrBadSignature)
	}
	return nil
}

func mac(secret string, ts int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
