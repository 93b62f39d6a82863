package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Signature purposes mixed into the digest.
const (
	PurposeConnection = "connection"
	PurposeHeartbeat  = "heartbeat"
	PurposeUsage      = "usage"
)

const defaultSkew = 300 * time.Second

// Verifier checks md5(timestamp + identity + secret + purpose) signatures.
type Verifier struct {
	secret string
	skew   time.Duration
	now    func() time.Time
}

// NewVerifier builds a verifier for the shared secret. skew <= 0 uses 300s.
func NewVerifier(secret string, skew time.Duration) *Verifier {
	if skew <= 0 {
		skew = defaultSkew
	}
	return &Verifier{secret: secret, skew: skew, now: time.Now}
}

// SetClock replaces the time source; used by tests.
func (v *Verifier) SetClock(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Sign computes the lower-case hex digest.
func (v *Verifier) Sign(identity, timestamp, purpose string) string {
	sum := md5.Sum([]byte(timestamp + identity + v.secret + purpose))
	return hex.EncodeToString(sum[:])
}

// VerifyConnection checks the handshake signature.
func (v *Verifier) VerifyConnection(identity, timestamp, signature string) bool {
	return v.verify(identity, timestamp, signature, PurposeConnection)
}

// VerifyHeartbeat checks the signature carried by a client heartbeat.
func (v *Verifier) VerifyHeartbeat(identity, timestamp, signature string) bool {
	return v.verify(identity, timestamp, signature, PurposeHeartbeat)
}

// VerifyTimeBoxed checks a signature whose timestamp must be recent. Without a
// timestamp every second of the window up to now is tried.
func (v *Verifier) VerifyTimeBoxed(identity, timestamp, signature, purpose string) bool {
	if v == nil || v.secret == "" || identity == "" || signature == "" || purpose == "" {
		return false
	}
	now := v.now().Unix()
	window := int64(v.skew / time.Second)

	if timestamp != "" {
		if len(timestamp) != 10 {
			return false
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		if diff := now - ts; diff > window || diff < -window {
			return false
		}
		return v.verify(identity, timestamp, signature, purpose)
	}

	for ts := now; ts >= now-window; ts-- {
		if v.verify(identity, strconv.FormatInt(ts, 10), signature, purpose) {
			return true
		}
	}
	return false
}

func (v *Verifier) verify(identity, timestamp, signature, purpose string) bool {
	if v == nil || v.secret == "" || identity == "" || timestamp == "" || signature == "" {
		return false
	}
	expected := v.Sign(identity, timestamp, purpose)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
