package signing

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names for signature transport. The signature value is wrapped as
// "signature=<hex>"; the same encoding is used on the outbound delivery
// path and by VerifyFromHeaders.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderNonce     = "X-Webhook-Nonce"
	HeaderAlgorithm = "X-Webhook-Algorithm"

	signaturePrefix = "signature="
)

// ApplyHeaders writes the signature headers for one signed payload.
func ApplyHeaders(h http.Header, sp SignedPayload) {
	h.Set(HeaderSignature, signaturePrefix+sp.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(sp.Timestamp, 10))
	h.Set(HeaderNonce, sp.Nonce)
	h.Set(HeaderAlgorithm, string(sp.Algorithm))
}

// VerifyFromHeaders parses the signature headers back out and delegates to
// Verify. Missing or malformed headers are reported as invalid results.
func VerifyFromHeaders(h http.Header, payload []byte, secret string, tolerance time.Duration) Result {
	sig := h.Get(HeaderSignature)
	if sig == "" {
		return Result{Error: "missing signature header"}
	}
	if !strings.HasPrefix(sig, signaturePrefix) {
		return Result{Error: "malformed signature header"}
	}
	sig = strings.TrimPrefix(sig, signaturePrefix)

	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return Result{Error: "missing or malformed timestamp header"}
	}
	nonce := h.Get(HeaderNonce)
	if nonce == "" {
		return Result{Error: "missing nonce header"}
	}
	alg := Algorithm(h.Get(HeaderAlgorithm))
	if alg == "" {
		alg = SHA256
	}
	return Verify(payload, sig, secret, ts, nonce, alg, tolerance)
}
