package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewPhoneNormalizer("55")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"local number gets country code", "11999990000", "5511999990000"},
		{"already international", "5511999990000", "5511999990000"},
		{"web contact id", "5511999990000@c.us", "5511999990000"},
		{"multi device jid", "5511999990000:12@s.whatsapp.net", "5511999990000"},
		{"twilio address", "whatsapp:+5511999990000", "5511999990000"},
		{"formatted", "Tel: (11) 99999-0000", "5511999990000"},
		{"long foreign number kept", "447911123456789", "447911123456789"},
		{"empty", "", ""},
		{"no digits", "abc", ""},
		{"only suffix", "@c.us", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, n.Normalize(tc.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"", "5", "55", "555", "11999990000", "5511999990000", "+1 (415) 555-2671",
		"5511999990000@c.us", "123:4@s.whatsapp.net", "whatsapp:+447911123456",
		"0000000000000000000", "phone: 21 3333-4444 ext 12", "@", ":::",
	}
	for _, cc := range []string{"55", "1", "351"} {
		n := NewPhoneNormalizer(cc)
		for _, in := range inputs {
			once := n.Normalize(in)
			require.Equal(t, once, n.Normalize(once), "cc=%s input=%q", cc, in)
		}
	}
}

func TestAddress(t *testing.T) {
	n := NewPhoneNormalizer("")
	require.Equal(t, DefaultCountryCode, n.CountryCode)

	require.Equal(t, "5511999990000@c.us", n.Address("11999990000"))
	require.Equal(t, "5511999990000@c.us", n.Address("5511999990000@c.us"))
	require.Equal(t, "", n.Address(""))
}

func TestPhoneSuffix(t *testing.T) {
	require.Equal(t, "99990000", PhoneSuffix("+55 11 99999-0000", 8))
	require.Equal(t, "99990000", PhoneSuffix("5511999990000@c.us", 8))
	require.Equal(t, "1234", PhoneSuffix("1234", 8))
	require.Equal(t, "5511999990000", PhoneSuffix("5511999990000", 0))
}
