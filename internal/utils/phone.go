package utils

import (
	"strings"
)

const (
	// DefaultCountryCode is Brazil, where the first hotels run
	DefaultCountryCode = "55"
	// ContactSuffix is the WhatsApp Web user domain appended to addressable ids
	ContactSuffix = "@c.us"

	maxLocalNumberLen = 11
)

// PhoneNormalizer canonicalizes phone identifiers for one tenant.
// Every method is total: malformed input degrades to a best-effort value, never an error.
type PhoneNormalizer struct {
	CountryCode string
	Suffix      string
}

// NewPhoneNormalizer returns a normalizer for the given default country code
func NewPhoneNormalizer(countryCode string) PhoneNormalizer {
	countryCode = DigitsOnly(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return PhoneNormalizer{CountryCode: countryCode, Suffix: ContactSuffix}
}

// Normalize returns the digit-only storage form of a phone.
// Transport forms like "5511999990000@c.us" or "5511999990000:12@s.whatsapp.net" are accepted.
func (n PhoneNormalizer) Normalize(raw string) string {
	p := DigitsOnly(stripTransportParts(raw))
	if p == "" {
		return ""
	}
	cc := n.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}
	if !strings.HasPrefix(p, cc) && len(p) <= maxLocalNumberLen {
		p = cc + p
	}
	return p
}

// Address returns the transport-addressable form: normalized phone plus the transport suffix
func (n PhoneNormalizer) Address(raw string) string {
	suffix := n.Suffix
	if suffix == "" {
		suffix = ContactSuffix
	}
	p := n.Normalize(raw)
	if p == "" || strings.HasSuffix(p, suffix) {
		return p
	}
	return p + suffix
}

// DigitsOnly strips every non-digit character
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneSuffix returns the trailing n digits of a phone (all digits when shorter)
func PhoneSuffix(phone string, n int) string {
	d := DigitsOnly(stripTransportParts(phone))
	if n <= 0 || len(d) <= n {
		return d
	}
	return d[len(d)-n:]
}

// stripTransportParts drops the "whatsapp:" scheme and the "@server" and ":device" parts of a JID
func stripTransportParts(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	at := strings.IndexByte(raw, '@')
	if at < 0 {
		return raw
	}
	raw = raw[:at]
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
