// Package codec decodes the on-chain encodings the futarchy contracts use for
// text and prices.
package codec

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("invalid utf-8")

// DecodeText turns a zero-padded fixed-width text field into a string. The
// input is hex, with or without 0x. Input that is not hex is taken as the
// text itself, which makes unprefixed input ambiguous: "2024" decodes as the
// bytes 0x20 0x24. Callers holding raw bytes use DecodeTextBytes, and callers
// holding chain hex should keep the 0x prefix hexutil.Encode produces.
// Trailing zero padding is stripped before and after hex decoding so the
// result never carries NUL characters.
func DecodeText(raw string) (string, error) {
	s := strings.TrimRight(raw, "\x00")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = trimHexZeroPairs(s)

	if s == "" {
		return "", nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return DecodeTextBytes([]byte(raw))
	}
	return DecodeTextBytes(b)
}

// DecodeTextBytes decodes an already-unhexed text field: trailing zero bytes
// are dropped and the rest must be valid UTF-8.
func DecodeTextBytes(b []byte) (string, error) {
	b = bytes.TrimRight(b, "\x00")
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}

// trimHexZeroPairs drops trailing "00" byte pairs from an even-length hex
// string.
func trimHexZeroPairs(s string) string {
	if len(s)%2 != 0 {
		return s
	}
	for len(s) >= 2 && s[len(s)-2:] == "00" {
		s = s[:len(s)-2]
	}
	return s
}

// EncodeText is the inverse of DecodeText for a fixed width: it hex-encodes
// text right-padded with zero bytes to width bytes. A width of zero leaves the
// bytes unpadded.
func EncodeText(text string, width int) string {
	b := []byte(text)
	if width > len(b) {
		padded := make([]byte, width)
		copy(padded, b)
		b = padded
	}
	return "0x" + hex.EncodeToString(b)
}
