package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ggoodman/hush/errs"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	k, err := RandomBytes(KeySize)
	require.NoError(t, err)
	return k
}

func TestRoundTripAllCiphers(t *testing.T) {
	for _, c := range []Cipher{AESGCM, ChaCha20Poly1305} {
		t.Run(c.Name(), func(t *testing.T) {
			key := mustKey(t)
			plain := []byte(`{"privateAddress":"0xabc","positionSecrets":{}}`)

			sealed, err := c.Seal(key, plain)
			require.NoError(t, err)
			require.Len(t, sealed.Nonce, NonceSize)
			require.False(t, bytes.Contains(sealed.Ciphertext, plain))

			got, err := c.Open(key, sealed)
			require.NoError(t, err)
			require.Equal(t, plain, got)
		})
	}
}

func TestWrongKeyIsIntegrityError(t *testing.T) {
	for _, c := range []Cipher{AESGCM, ChaCha20Poly1305} {
		t.Run(c.Name(), func(t *testing.T) {
			sealed, err := c.Seal(mustKey(t), []byte("payload"))
			require.NoError(t, err)

			got, err := c.Open(mustKey(t), sealed)
			require.Nil(t, got)
			var ie *IntegrityError
			require.True(t, errors.As(err, &ie))
			require.Equal(t, errs.KindIntegrity, errs.KindOf(err))
		})
	}
}

func TestTamperedCiphertextIsIntegrityError(t *testing.T) {
	key := mustKey(t)
	sealed, err := AESGCM.Seal(key, []byte("payload"))
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0x01

	_, err = AESGCM.Open(key, sealed)
	require.Equal(t, errs.KindIntegrity, errs.KindOf(err))
}

func TestShortNonceIsIntegrityError(t *testing.T) {
	key := mustKey(t)
	sealed, err := AESGCM.Seal(key, []byte("payload"))
	require.NoError(t, err)
	sealed.Nonce = sealed.Nonce[:8]

	_, err = AESGCM.Open(key, sealed)
	require.Equal(t, errs.KindIntegrity, errs.KindOf(err))
}

func TestSealRejectsShortKey(t *testing.T) {
	_, err := AESGCM.Seal(make([]byte, 16), []byte("payload"))
	require.Error(t, err)
}

func TestNonceUniqueness(t *testing.T) {
	key := mustKey(t)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		sealed, err := AESGCM.Seal(key, []byte("x"))
		require.NoError(t, err)
		n := string(sealed.Nonce)
		if _, dup := seen[n]; dup {
			t.Fatalf("nonce repeated after %d encryptions", i)
		}
		seen[n] = struct{}{}
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	require.Equal(t, "aes-gcm", c.Name())

	c, err = ByName("chacha20-poly1305")
	require.NoError(t, err)
	require.Equal(t, ChaCha20Poly1305, c)

	_, err = ByName("rot13")
	require.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}
