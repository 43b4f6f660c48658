package signature

import (
	"crypto/hmac"
	"strings"
	"time"
)

// DefaultTolerance is how far a signed timestamp may drift from the
// verifier's clock before the signature is rejected as a replay.
const DefaultTolerance = 5 * time.Minute

// Verify checks whether the signature header matches any of the given
// secrets. The header may carry several space-separated signatures (one
// per rotation secret); verification succeeds if any pair matches.
func Verify(msgID string, payload []byte, secrets []string, timestamp int64, header string) bool {
	candidates := strings.Fields(header)
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		expected := Sign(msgID, payload, secret, timestamp)
		for _, candidate := range candidates {
			if hmac.Equal([]byte(expected), []byte(candidate)) {
				return true
			}
		}
	}
	return false
}

// VerifyWithTolerance is Verify plus a timestamp freshness check: the
// signed timestamp must be within tolerance of now. A zero tolerance uses
// DefaultTolerance.
func VerifyWithTolerance(msgID string, payload []byte, secrets []string, timestamp int64, header string, now time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	signed := time.Unix(timestamp, 0)
	drift := now.Sub(signed)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return false
	}

	return Verify(msgID, payload, secrets, timestamp, header)
}
