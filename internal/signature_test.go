package internal

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestSummarizeSignature(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	tests := []struct {
		name         string
		token        string
		wantPresent  bool
		wantEncoding string
		wantBytes    int
	}{
		{"empty", "", false, "", 0},
		{"raw base64url", base64.RawURLEncoding.EncodeToString(payload), true, "base64url", 256},
		{"standard base64", base64.StdEncoding.EncodeToString([]byte{0xfb, 0xff, 0xfe}), true, "base64", 3},
		{"not base64", "not a token!", true, "opaque", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeSignature(tt.token)
			if s.Present != tt.wantPresent || s.Encoding != tt.wantEncoding || s.DecodedBytes != tt.wantBytes {
				t.Errorf("SummarizeSignature() = %+v", s)
			}
		})
	}
}

func TestSignatureSummary_String(t *testing.T) {
	if got := SummarizeSignature("").String(); got != "unsigned" {
		t.Errorf("String() = %q", got)
	}
	if got := SummarizeSignature("not a token!").String(); !strings.Contains(got, "opaque") {
		t.Errorf("String() = %q", got)
	}
	if got := SummarizeSignature(testSig).String(); !strings.Contains(got, "entropy") {
		t.Errorf("String() = %q", got)
	}
}

func TestCalculateEntropy(t *testing.T) {
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single value", []byte("aaaa"), 0},
		{"two values", []byte("abab"), 1},
		{"uniform", uniform, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateEntropy(tt.data)
			if got < tt.want-0.0001 || got > tt.want+0.0001 {
				t.Errorf("calculateEntropy() = %v, want %v", got, tt.want)
			}
		})
	}
}
