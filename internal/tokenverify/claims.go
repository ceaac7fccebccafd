package tokenverify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Claims is the decoded JWT payload exactly as the issuer sent it. Numbers
// are kept as json.Number so large integers survive the round trip.
type Claims map[string]any

func decodeClaims(payload []byte) (Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var c Claims
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("decode claims: payload is not an object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode claims: trailing data after object")
	}
	return c, nil
}

// StringValue returns the named claim if it is a string.
func (c Claims) StringValue(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.StringValue("sub") }

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.StringValue("iss") }

// Audience returns "aud" as a slice; the claim may be a string or an array.
func (c Claims) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExpiresAt returns "exp" as a time, or the zero time when absent.
func (c Claims) ExpiresAt() time.Time { return c.time("exp") }

// IssuedAt returns "iat" as a time, or the zero time when absent.
func (c Claims) IssuedAt() time.Time { return c.time("iat") }

func (c Claims) time(name string) time.Time {
	var f float64
	switch v := c[name].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0)
		}
		parsed, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		f = parsed
	case float64:
		f = v
	default:
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}
