package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	signaturePrefix = "sha256="
)

// Verifier checks the HMAC-SHA256 signature providers put on webhook calls.
// The signed message is "<unix timestamp>.<raw body>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *Verifier) Verify(body []byte, timestamp, signature string) error {
	if len(v.secret) == 0 {
		return errors.Wrap(domain.ErrUnauthorized, "webhook secret not configured")
	}
	if timestamp == "" || signature == "" {
		return errors.Wrap(domain.ErrUnauthorized, "missing signature headers")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(domain.ErrUnauthorized, "malformed timestamp")
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return errors.Wrap(domain.ErrUnauthorized, "timestamp outside tolerance")
		}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return errors.Wrap(domain.ErrUnauthorized, "malformed signature")
	}
	if !hmac.Equal(got, mac(v.secret, ts, body)) {
		return errors.Wrap(domain.ErrUnauthorized, "signature mismatch")
	}
	return nil
}

// Sign produces the header value a provider would send for body at ts.
func Sign(secret string, ts int64, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac([]byte(secret), ts, body))
}

func mac(secret []byte, ts int64, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}
