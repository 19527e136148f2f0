package signing_test

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/signing"
)

type sample struct {
	PublicKey string `json:"publicKey"`
	BackURL   string `json:"backUrl"`
	Name      string `json:"name"`
	Amount    string `json:"amount"`
}

func TestCanonicalizeUnescaped(t *testing.T) {
	raw, err := signing.Canonicalize(sample{
		PublicKey: "pk_test_abc",
		BackURL:   "https://shop.example/checkout/?a=1&b=2",
		Name:      "Ștefan <Σ>",
		Amount:    "18.99",
	})
	require.NoError(t, err)
	require.Equal(t, `{"publicKey":"pk_test_abc","backUrl":"https://shop.example/checkout/?a=1&b=2","name":"Ștefan <Σ>","amount":"18.99"}`, string(raw))
}

func TestSignDeterministic(t *testing.T) {
	p := sample{PublicKey: "pk_test_abc", Amount: "10.00"}
	a, err := signing.Encode(p, "sk_test_secret")
	require.NoError(t, err)
	b, err := signing.Encode(p, "sk_test_secret")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := signing.Encode(p, "sk_test_other")
	require.NoError(t, err)
	require.NotEqual(t, a.Checksum, c.Checksum)
}

func TestSignUsesStrippedKeyAndRawDigest(t *testing.T) {
	data := []byte(`{"k":"v"}`)
	mac := hmac.New(sha512.New, []byte("ABC123"))
	mac.Write(data)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	signed, err := signing.Encode(map[string]string{"k": "v"}, "sk_test_ABC123")
	require.NoError(t, err)
	require.Equal(t, want, signed.Checksum)
	require.Equal(t, base64.StdEncoding.EncodeToString(data), signed.Payload)
	require.Len(t, mac.Sum(nil), 64)
}

func TestStripKeyPrefix(t *testing.T) {
	cases := map[string]string{
		"sk_test_ABC123":  "ABC123",
		"sk_live_XYZ":     "XYZ",
		"no_prefix_value": "no_prefix_value",
		"":                "",
		"pk_live_abc":     "pk_live_abc",
	}
	for in, want := range cases {
		require.Equal(t, want, signing.StripKeyPrefix(in), in)
	}
}

func TestEncodeRequiresSecret(t *testing.T) {
	_, err := signing.Encode(sample{}, "  ")
	require.ErrorIs(t, err, signing.ErrEmptySecret)
}

func TestVerifyRoundTrip(t *testing.T) {
	signed, err := signing.Encode(sample{Amount: "1.00"}, "sk_live_key")
	require.NoError(t, err)

	ok, err := signing.Verify(signed.Payload, signed.Checksum, "sk_live_key")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = signing.Verify(signed.Payload, signed.Checksum, "sk_live_other")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = signing.Verify("%%%", signed.Checksum, "sk_live_key")
	require.Error(t, err)
}
