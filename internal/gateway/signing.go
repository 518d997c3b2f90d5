package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Encoding selects how values are written into the signed string.
// Providers disagree and sandbox failures usually come down to this choice.
type Encoding string

const (
	// EncodingRaw writes values untouched
	EncodingRaw Encoding = "raw"
	// EncodingQuery applies url.QueryEscape, spaces become '+'
	EncodingQuery Encoding = "query"
	// EncodingPercent is QueryEscape with spaces as %20
	EncodingPercent Encoding = "percent"
)

// ParseEncoding maps a config value onto an Encoding, defaulting to EncodingQuery
func ParseEncoding(s string) Encoding {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingRaw:
		return EncodingRaw
	case EncodingPercent:
		return EncodingPercent
	default:
		return EncodingQuery
	}
}

func (e Encoding) encode(v string) string {
	switch e {
	case EncodingRaw:
		return v
	case EncodingPercent:
		return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
	default:
		return url.QueryEscape(v)
	}
}

// CanonicalQuery joins fields as key-sorted k=v pairs separated by '&'
func CanonicalQuery(fields map[string]string, enc Encoding) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(enc.encode(k))
		b.WriteByte('=')
		b.WriteString(enc.encode(fields[k]))
	}
	return b.String()
}

// HMACSHA512 returns the lowercase hex HMAC-SHA512 of data
func HMACSHA512(secret, data string) string {
	return sign(sha512.New, secret, data)
}

// HMACSHA256 returns the lowercase hex HMAC-SHA256 of data
func HMACSHA256(secret, data string) string {
	return sign(sha256.New, secret, data)
}

func sign(h func() hash.Hash, secret, data string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureEqual compares hex signatures in constant time, ignoring case
func SignatureEqual(expected, received string) bool {
	if expected == "" || received == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(received)))
}
