// Package canon provides deterministic canonicalization, content hashing,
// HMAC signing, and secret redaction used throughout the gateway to make
// hashes, signatures, and argument comparisons order-independent.
package canon

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewRequestID returns a fresh random UUIDv4 string.
func NewRequestID() string {
	return uuid.NewString()
}

// Canonicalize produces a deterministic JSON-like string representation of
// v: object keys are sorted lexicographically, arrays preserve order, and
// the same logical value always serializes identically regardless of the
// original key order. Canonicalize(x) == Canonicalize(y) iff x and y are
// structurally equal.
func Canonicalize(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeCanonicalString(b, val)
	case float64:
		b.WriteString(formatCanonicalFloat(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		writeCanonicalObject(b, val)
	case []interface{}:
		writeCanonicalArray(b, val)
	default:
		// Fall back to a best-effort representation for types that slip
		// through untyped decoding (e.g. []string from Go-native callers).
		writeCanonicalReflect(b, v)
	}
}

func writeCanonicalObject(b *strings.Builder, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCanonicalString(b, k)
		b.WriteByte(':')
		writeCanonical(b, m[k])
	}
	b.WriteByte('}')
}

func writeCanonicalArray(b *strings.Builder, arr []interface{}) {
	b.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCanonical(b, elem)
	}
	b.WriteByte(']')
}

func writeCanonicalString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// writeCanonicalReflect handles Go-native values (structs, typed slices and
// maps) that didn't arrive as the untyped map[string]interface{}/[]interface{}
// shape produced by decoding JSON. It round-trips through encoding/json to
// normalize to that shape, then canonicalizes the result.
func writeCanonicalReflect(b *strings.Builder, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		// Last resort: represent as its %v string rather than panic.
		writeCanonicalString(b, fmt.Sprintf("%v", v))
		return
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		writeCanonicalString(b, string(data))
		return
	}
	writeCanonical(b, generic)
}

func formatCanonicalFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the lowercase hex-encoded HMAC-SHA-256 of s keyed by
// secret.
func HMACSHA256Hex(s, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual performs a constant-time comparison of two hex-encoded
// digests, used for signature verification.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// sensitiveKeyPattern matches argument keys that likely carry secret
// material.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|secret|token|api[_-]?key|auth|credential|bearer`)

// sensitiveValuePrefixes are literal string prefixes that indicate the value
// itself is a bearer credential, independent of its key name.
var sensitiveValuePrefixes = []string{
	"sk-", "pk-", "xoxp-", "xoxb-", "xoxo-", "xoxa-", "ghp_", "gho_", "Bearer ",
}

const defaultMaxRedactChars = 200
const maxRedactArrayElems = 10

// RedactSecrets returns a deep copy of v with sensitive values replaced by
// "[REDACTED]", long strings truncated with an elision marker, and arrays
// capped at 10 elements. maxChars of 0 uses the default cap of 200.
func RedactSecrets(v interface{}, maxChars int) interface{} {
	if maxChars <= 0 {
		maxChars = defaultMaxRedactChars
	}
	return redact(v, maxChars)
}

func redact(v interface{}, maxChars int) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			if sensitiveKeyPattern.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = redact(elem, maxChars)
		}
		return out
	case []interface{}:
		n := len(val)
		if n > maxRedactArrayElems {
			n = maxRedactArrayElems
		}
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			out[i] = redact(val[i], maxChars)
		}
		return out
	case string:
		return redactString(val, maxChars)
	default:
		return v
	}
}

func redactString(s string, maxChars int) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(s, prefix) {
			return "[REDACTED]"
		}
	}
	if len(s) > maxChars {
		removed := len(s) - maxChars
		return fmt.Sprintf("%s...[elided %d chars]", s[:maxChars], removed)
	}
	return s
}
