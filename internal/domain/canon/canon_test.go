package canon

import (
	"strings"
	"testing"
)

func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a := map[string]interface{}{"b": 1.0, "a": 2.0}
	b := map[string]interface{}{"a": 2.0, "b": 1.0}

	if Canonicalize(a) != Canonicalize(b) {
		t.Fatalf("expected canonicalization to be key-order independent")
	}
}

func TestCanonicalizeStructuralEquality(t *testing.T) {
	tests := []struct {
		name  string
		a, b  interface{}
		equal bool
	}{
		{"same nested object", map[string]interface{}{"x": map[string]interface{}{"y": 1.0}}, map[string]interface{}{"x": map[string]interface{}{"y": 1.0}}, true},
		{"different values", map[string]interface{}{"x": 1.0}, map[string]interface{}{"x": 2.0}, false},
		{"array order matters", []interface{}{1.0, 2.0}, []interface{}{2.0, 1.0}, false},
		{"nil vs empty object", nil, map[string]interface{}{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(tt.a) == Canonicalize(tt.b)
			if got != tt.equal {
				t.Fatalf("Canonicalize(a)==Canonicalize(b) = %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestCanonicalizeImpliesEqualHash(t *testing.T) {
	a := map[string]interface{}{"cmd": "ls", "cwd": "/tmp"}
	b := map[string]interface{}{"cwd": "/tmp", "cmd": "ls"}

	if SHA256Hex(Canonicalize(a)) != SHA256Hex(Canonicalize(b)) {
		t.Fatalf("equal canonical strings must imply equal hashes")
	}
}

func TestHMACSHA256HexDeterministic(t *testing.T) {
	sig1 := HMACSHA256Hex("payload", "secret")
	sig2 := HMACSHA256Hex("payload", "secret")
	if sig1 != sig2 {
		t.Fatalf("HMAC must be deterministic for the same input and key")
	}
	if HMACSHA256Hex("payload", "other-secret") == sig1 {
		t.Fatalf("HMAC must differ across keys")
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Fatalf("expected unique request ids")
	}
	if len(a) != 36 {
		t.Fatalf("expected UUID string length 36, got %d", len(a))
	}
}

func TestRedactSecretsByKey(t *testing.T) {
	in := map[string]interface{}{
		"password": "hunter2",
		"api_key":  "abc123",
		"note":     "hello",
	}
	out := RedactSecrets(in, 0).(map[string]interface{})
	if out["password"] != "[REDACTED]" {
		t.Fatalf("expected password redacted, got %v", out["password"])
	}
	if out["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redacted, got %v", out["api_key"])
	}
	if out["note"] != "hello" {
		t.Fatalf("expected unrelated key preserved, got %v", out["note"])
	}
}

func TestRedactSecretsByValuePrefix(t *testing.T) {
	in := map[string]interface{}{"header": "sk-abcdefghijklmnop"}
	out := RedactSecrets(in, 0).(map[string]interface{})
	if out["header"] != "[REDACTED]" {
		t.Fatalf("expected sk- prefixed value redacted, got %v", out["header"])
	}
}

func TestRedactSecretsTruncatesLongStrings(t *testing.T) {
	longStr := strings.Repeat("x", 500)
	out := RedactSecrets(map[string]interface{}{"body": longStr}, 50).(map[string]interface{})
	got := out["body"].(string)
	if !strings.Contains(got, "elided") {
		t.Fatalf("expected elision marker, got %q", got)
	}
}

func TestRedactSecretsCapsArrays(t *testing.T) {
	arr := make([]interface{}, 20)
	for i := range arr {
		arr[i] = i
	}
	out := RedactSecrets(map[string]interface{}{"items": arr}, 0).(map[string]interface{})
	gotArr := out["items"].([]interface{})
	if len(gotArr) != 10 {
		t.Fatalf("expected array capped at 10 elements, got %d", len(gotArr))
	}
}

func TestRedactSecretsRecursesNested(t *testing.T) {
	in := map[string]interface{}{
		"outer": map[string]interface{}{
			"token": "tok-value",
		},
	}
	out := RedactSecrets(in, 0).(map[string]interface{})
	inner := out["outer"].(map[string]interface{})
	if inner["token"] != "[REDACTED]" {
		t.Fatalf("expected nested token redacted, got %v", inner["token"])
	}
}
