package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal("client-secret-value")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "client-secret-value")

	again, err := s.Seal("client-secret-value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "client-secret-value", opened)
}

func TestSealer_PlaintextPassthrough(t *testing.T) {
	key, _ := GenerateKey()
	s, err := NewSealer(key)
	require.NoError(t, err)

	opened, err := s.Open("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", opened)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSealer_Nil(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.Nil(t, s)

	v, err := s.Seal("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = s.Open("v1:AAAA")
	assert.Error(t, err)
}

func TestSealer_WrongKeyOrTamper(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	s1, _ := NewSealer(k1)
	s2, _ := NewSealer(k2)

	sealed, err := s1.Seal("token")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)

	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered != sealed {
		_, err = s1.Open(tampered)
		assert.Error(t, err)
	}
}

func TestNewSealer_InvalidKey(t *testing.T) {
	_, err := NewSealer("abc")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewSealer(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
