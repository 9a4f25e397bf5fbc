package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignaturePrefix identifies the HMAC scheme on outbound signatures.
const SignaturePrefix = "sha256="

// CanonicalPayload serializes a payload for signing. The delivering worker
// must send exactly these bytes as the request body or the receiver's
// verification will fail: json.Marshal sorts object keys, which is what makes
// the serialization deterministic.
func CanonicalPayload(payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: serialize payload: %w", err)
	}
	return body, nil
}

// GenerateSignature computes the delivery signature for a payload:
// "sha256=" + hex(HMAC-SHA256(canonical payload, secret)).
func GenerateSignature(payload map[string]any, secret string) (string, error) {
	body, err := CanonicalPayload(payload)
	if err != nil {
		return "", err
	}
	return SignBody(body, secret), nil
}

// SignBody computes the signature over raw body bytes. The worker uses this
// form so the signed bytes and the sent bytes are the same value.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
