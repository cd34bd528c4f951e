package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

/* Keyed signatures for outbound webhook deliveries.
 * The signed content is: {unix_timestamp}.{raw_body}
 * Subscribers recompute the HMAC with their secret and compare before
 * trusting the payload; the timestamp plus nonce header bound replays.
 */

const (
	// SecretPrefix is the prefix for generated signing secrets
	SecretPrefix = "whsec_"

	// SignatureVersion is the version identifier for signatures
	SignatureVersion = "v1"

	// MinSecretBytes is the minimum generated secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum generated secret size (512 bits)
	MaxSecretBytes = 64
)

// Header names attached to every delivery request.
const (
	HeaderID        = "Webhook-Id"
	HeaderTimestamp = "Webhook-Timestamp"
	HeaderNonce     = "Webhook-Nonce"
	HeaderSignature = "Webhook-Signature"
)

// GenerateSecret creates a new cryptographically secure signing secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (string, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return "", fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return SecretPrefix + base64.StdEncoding.EncodeToString(bytes), nil
}

// Signature represents a computed signature with its version
type Signature struct {
	Version   string
	Signature string
}

// String returns the signature in the format: v1,<base64_signature>
func (s Signature) String() string {
	return fmt.Sprintf("%s,%s", s.Version, s.Signature)
}

// Parse parses a signature string in the format: v1,<base64_signature>
func Parse(sig string) (Signature, error) {
	parts := strings.SplitN(sig, ",", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'version,signature'")
	}

	return Signature{
		Version:   parts[0],
		Signature: parts[1],
	}, nil
}

// Sign computes the signature for a payload at the given timestamp.
func Sign(secret string, timestamp time.Time, payload []byte) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("secret cannot be empty")
	}

	// Signed content: timestamp.payload
	timestampStr := strconv.FormatInt(timestamp.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestampStr))
	mac.Write([]byte("."))
	mac.Write(payload)
	sig := mac.Sum(nil)

	return Signature{
		Version:   SignatureVersion,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify verifies a signature using constant-time comparison.
// Returns true if the signature is valid, false otherwise.
func Verify(secret string, timestamp time.Time, payload []byte, expectedSig Signature) (bool, error) {
	// Only support v1 signatures
	if expectedSig.Version != SignatureVersion {
		return false, fmt.Errorf("unsupported signature version: %s", expectedSig.Version)
	}

	calculatedSig, err := Sign(secret, timestamp, payload)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}

	// Decode both signatures for constant-time comparison
	expected, err := base64.StdEncoding.DecodeString(expectedSig.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding expected signature: %w", err)
	}

	calculated, err := base64.StdEncoding.DecodeString(calculatedSig.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding calculated signature: %w", err)
	}

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(expected, calculated) == 1, nil
}

// ParseTimestampHeader parses the Webhook-Timestamp header value.
func ParseTimestampHeader(header string) (time.Time, error) {
	unix, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp header: %w", err)
	}
	return time.Unix(unix, 0), nil
}
