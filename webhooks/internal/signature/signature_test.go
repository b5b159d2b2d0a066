package signature

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"reservation.created","data":{}}`)
	secret := "s3cret"
	signed := Sign(body, secret)

	tests := []struct {
		name    string
		body    []byte
		header  string
		secret  string
		wantErr error
	}{
		{name: "prefixed", body: body, header: signed, secret: secret},
		{name: "bare hex", body: body, header: strings.TrimPrefix(signed, Prefix), secret: secret},
		{name: "upper case prefix", body: body, header: "SHA256=" + strings.TrimPrefix(signed, Prefix), secret: secret},
		{name: "wrong secret", body: body, header: signed, secret: "other", wantErr: ErrInvalidSignature},
		{name: "not configured", body: body, header: signed, secret: "", wantErr: ErrNotConfigured},
		{name: "missing header", body: body, header: "", secret: secret, wantErr: ErrMissingSignature},
		{name: "not hex", body: body, header: "sha256=zzzz", secret: secret, wantErr: ErrMalformedSignature},
		{name: "short digest", body: body, header: "sha256=abcd", secret: secret, wantErr: ErrMalformedSignature},
		{name: "reserialized body", body: []byte(`{"id": "evt_1", "type": "reservation.created", "data": {}}`), header: signed, secret: secret, wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.body, tt.header, tt.secret)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestVerify_AnyByteFlipFails(t *testing.T) {
	faker := gofakeit.New(42)
	for i := 0; i < 20; i++ {
		body := []byte(faker.Sentence(12))
		secret := faker.Password(true, true, true, false, false, 24)
		header := Sign(body, secret)
		require.NoError(t, Verify(body, header, secret))

		for pos := range body {
			flipped := append([]byte(nil), body...)
			flipped[pos] ^= 0x01
			assert.ErrorIs(t, Verify(flipped, header, secret), ErrInvalidSignature, "flip at %d", pos)
		}
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "not_configured", Reason(ErrNotConfigured))
	assert.Equal(t, "invalid_signature", Reason(ErrInvalidSignature))
	assert.Equal(t, "missing_signature", Reason(ErrMissingSignature))
	assert.Equal(t, "malformed_signature", Reason(ErrMalformedSignature))
	assert.Equal(t, "verification_error", Reason(assert.AnError))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, SecretBytes*2)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}
