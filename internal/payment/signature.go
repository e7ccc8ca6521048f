package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature covers every way a webhook signature check can fail:
// missing header, malformed header, stale timestamp, or a digest mismatch.
// Callers must reject the payload without acting on it.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// SignPayload computes the hex HMAC-SHA256 the gateway puts in the v1 field:
// the digest of "<timestamp>.<payload>" under the shared webhook secret.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders a Stripe-style signature header for a payload.
// Used by tests and the simulator.
func SignatureHeader(payload []byte, secret string, ts time.Time) string {
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + SignPayload(payload, secret, ts)
}

// VerifySignature checks a Stripe-scheme signature header ("t=...,v1=...")
// against the shared secret. The timestamp must be within tolerance of now to
// bound replay; any v1 candidate matching the expected digest passes.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrInvalidSignature
	}

	var tsRaw string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsRaw = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if tsRaw == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	tsUnix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	ts := time.Unix(tsUnix, 0)

	if tolerance > 0 {
		age := now.Sub(ts)
		if age < -tolerance || age > tolerance {
			return ErrInvalidSignature
		}
	}

	expected := SignPayload(payload, secret, ts)
	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			return nil
		}
	}

	return ErrInvalidSignature
}
