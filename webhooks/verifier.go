package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature  = "X-Payment-Signature"
	HeaderTimestamp  = "X-Payment-Timestamp"
	HeaderDeliveryID = "X-Payment-Delivery-Id"

	defaultSignatureWindow = 5 * time.Minute
)

// Request is the transport neutral form of an inbound callback.
type Request struct {
	Headers map[string]string
	Body    []byte
}

func (r Request) Header(key string) string {
	return headerValue(r.Headers, key)
}

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// HMACVerifier checks a hex or base64 HMAC-SHA256 signature header. When
// TimestampHeader is set the signed content is "<timestamp>.<body>" and the
// timestamp must fall within Window of Now.
type HMACVerifier struct {
	Header          string
	Prefix          string
	Secret          string
	Encoding        string // hex | base64
	TimestampHeader string
	Window          time.Duration
	Now             func() time.Time
}

// NewPaymentVerifier returns the collector's scheme: "sha256=<hex>" over the
// timestamped body.
func NewPaymentVerifier(secret string) HMACVerifier {
	return HMACVerifier{
		Header:          HeaderSignature,
		Prefix:          "sha256=",
		Secret:          strings.TrimSpace(secret),
		Encoding:        "hex",
		TimestampHeader: HeaderTimestamp,
		Window:          defaultSignatureWindow,
	}
}

func (v HMACVerifier) Verify(_ context.Context, req Request) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	header := strings.TrimSpace(req.Header(v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	signed := req.Body
	if name := strings.TrimSpace(v.TimestampHeader); name != "" {
		timestamp := strings.TrimSpace(req.Header(name))
		if err := v.checkTimestamp(timestamp); err != nil {
			return err
		}
		signed = append([]byte(timestamp+"."), req.Body...)
	}
	expected := Sign(secret, signed)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

func (v HMACVerifier) checkTimestamp(value string) error {
	if value == "" {
		return fmt.Errorf("webhooks: %s header is required", v.TimestampHeader)
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: parse %s: %w", v.TimestampHeader, err)
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	window := v.Window
	if window <= 0 {
		window = defaultSignatureWindow
	}
	delta := now.Sub(time.Unix(seconds, 0).UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return fmt.Errorf("webhooks: signature timestamp outside the accepted window")
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of content.
func Sign(secret string, content []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(content)
	return mac.Sum(nil)
}

// SignPayment produces the header values a collector sends for body at ts.
func SignPayment(secret string, ts time.Time, body []byte) (signature string, timestamp string) {
	timestamp = strconv.FormatInt(ts.Unix(), 10)
	digest := Sign(strings.TrimSpace(secret), append([]byte(timestamp+"."), body...))
	return "sha256=" + hex.EncodeToString(digest), timestamp
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
