package internal

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

// SignatureSummary describes an opaque signature token for display. The
// token is never verified; only its shape is reported.
type SignatureSummary struct {
	Present      bool    `json:"present" yaml:"present"`
	Length       int     `json:"length" yaml:"length"`
	Encoding     string  `json:"encoding,omitempty" yaml:"encoding,omitempty"` // base64url, base64 or opaque
	DecodedBytes int     `json:"decoded_bytes,omitempty" yaml:"decoded_bytes,omitempty"`
	Entropy      float64 `json:"entropy,omitempty" yaml:"entropy,omitempty"`
}

// SummarizeSignature inspects a signature token
func SummarizeSignature(token string) SignatureSummary {
	if token == "" {
		return SignatureSummary{}
	}
	summary := SignatureSummary{Present: true, Length: len(token), Encoding: "opaque"}

	decoded, encoding, err := decodeBase64Token(token)
	if err != nil {
		return summary
	}
	summary.Encoding = encoding
	summary.DecodedBytes = len(decoded)
	summary.Entropy = calculateEntropy(decoded)
	return summary
}

func (s SignatureSummary) String() string {
	switch {
	case !s.Present:
		return "unsigned"
	case s.Encoding == "opaque":
		return fmt.Sprintf("signed (%d chars, opaque)", s.Length)
	default:
		return fmt.Sprintf("signed (%s, %d bytes, entropy=%.2f bits/byte)", s.Encoding, s.DecodedBytes, s.Entropy)
	}
}

// decodeBase64Token decodes a base64url or standard base64 token, padded or
// not
func decodeBase64Token(s string) ([]byte, string, error) {
	padLen := (4 - len(s)%4) % 4
	padded := s + strings.Repeat("=", padLen)

	if decoded, err := base64.URLEncoding.DecodeString(padded); err == nil {
		return decoded, "base64url", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(padded)
	if err != nil {
		return nil, "", err
	}
	return decoded, "base64", nil
}

// calculateEntropy calculates the Shannon entropy of the data in bits per
// byte. Signed or encrypted payloads sit close to 8.
func calculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	byteCounts := make(map[byte]int)
	for _, b := range data {
		byteCounts[b]++
	}

	entropy := 0.0
	dataLen := float64(len(data))
	for _, count := range byteCounts {
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}
	return entropy
}
