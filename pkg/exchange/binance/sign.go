package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// params is an ordered parameter list. The exchange signs the canonical
// query string in insertion order, so url.Values (which sorts) cannot be
// used here.
type params struct {
	pairs [][2]string
}

func newParams() *params { return &params{} }

func (p *params) Add(key, value string) *params {
	p.pairs = append(p.pairs, [2]string{key, value})
	return p
}

// Encode renders key1=val1&key2=val2&... percent-encoded, preserving
// insertion order.
func (p *params) Encode() string {
	var sb strings.Builder
	for i, kv := range p.pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv[0]))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv[1]))
	}
	return sb.String()
}

// sign returns the lowercase hex HMAC-SHA256 of the canonical query string.
func sign(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
