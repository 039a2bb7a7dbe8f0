/**
 * @description
 * Request signing for the partner affiliate API. The partner authenticates
 * requests with an HMAC-SHA256 signature over a canonical string built from
 * the timestamp, HTTP method, request path (including query string) and body.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, strings, time: Standard Go libraries.
 */
package partnerclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"
)

// Sign produces the base64-encoded HMAC-SHA256 signature for one request.
// The canonical signing string is timestamp + UPPER(method) + requestPath + body,
// so byte-identical inputs always yield byte-identical signatures.
func Sign(secret, timestamp, method, requestPath, body string) string {
	payload := timestamp + strings.ToUpper(method) + requestPath + body

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignTimestamp formats a timestamp the way the partner expects it in the
// ACCESS-TIMESTAMP header and in the signing string: RFC3339 with millisecond
// precision, UTC.
func SignTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
