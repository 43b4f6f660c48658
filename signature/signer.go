// Package signature provides HMAC-SHA256 webhook signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Scheme is the signature version prefix carried on the wire.
const Scheme = "v1"

// Header names carried on every signed delivery.
const (
	HeaderMessageID = "X-Hookpipe-Message-Id"
	HeaderTimestamp = "X-Hookpipe-Timestamp"
	HeaderSignature = "X-Hookpipe-Signature"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{messageID}.{timestamp}.{payload}".
// Returns a versioned signature in the format "v1,<base64>".
func Sign(msgID string, payload []byte, secret string, timestamp int64) string {
	content := fmt.Sprintf("%s.%d.%s", msgID, timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return Scheme + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignAll signs the payload with every secret in the rotation set and
// joins the signatures with a space, so receivers holding either the old
// or the new secret verify successfully during rollover.
func SignAll(msgID string, payload []byte, secrets []string, timestamp int64) string {
	sigs := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		sigs = append(sigs, Sign(msgID, payload, secret, timestamp))
	}
	return strings.Join(sigs, " ")
}
