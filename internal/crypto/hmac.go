package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names sent to the executor service.
const (
	HeaderKey       = "X-Dexbot-Key"
	HeaderTimestamp = "X-Dexbot-Timestamp"
	HeaderSignature = "X-Dexbot-Signature"
)

// HMACAuth signs executor requests. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the auth headers for a request sent now.
func (h *HMACAuth) Headers(method, path string, body []byte) http.Header {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) http.Header {
	ts := strconv.FormatInt(unixTS, 10)
	hdr := http.Header{}
	hdr.Set(HeaderKey, h.Key)
	hdr.Set(HeaderTimestamp, ts)
	hdr.Set(HeaderSignature, hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body)))
	return hdr
}

// Verify checks a signature in constant time.
func (h *HMACAuth) Verify(method, path string, body []byte, ts, signature string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body))
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
